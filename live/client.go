package live

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client connects one websocket observer to its subscription.
type Client struct {
	broadcaster *Broadcaster
	conn        *websocket.Conn
	sub         *Subscription
}

func NewClient(b *Broadcaster, conn *websocket.Conn, sub *Subscription) *Client {
	return &Client{broadcaster: b, conn: conn, sub: sub}
}

// ReadPump читает управляющие фреймы до отключения клиента.
// Наблюдатели ничего не отправляют, входящие сообщения игнорируются.
func (c *Client) ReadPump() {
	defer func() {
		c.broadcaster.Unsubscribe(c.sub)
		c.conn.Close()
		log.Printf("Observer readPump closed for match %d", c.sub.MatchID)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}
	}
}

// WritePump sends every envelope as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// подписку закрыл broadcaster: медленный клиент или комната удалена
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing to observer of match %d: %v", c.sub.MatchID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Error sending ping to observer of match %d: %v", c.sub.MatchID, err)
				return
			}
		}
	}
}
