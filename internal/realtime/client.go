package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"communities/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 16 // 64KB，上行只有控制事件，用不到大包
	sendBufferSize = 256
)

// Client 是一条 WebSocket 连接在 hub 里的代表。
// userID 为 0 表示匿名连接；room 只由持有 hub 锁的代码读写。
type Client struct {
	id       uuid.UUID
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   uint
	username string
	room     uint
}

// ID 返回连接的唯一标识。
func (c *Client) ID() uuid.UUID { return c.id }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 WebSocket 升级。身份来自握手 query 参数 userId：
// 缺失、字面量 "undefined" 或查无此人都按匿名连接接入。
func Serve(hub *Hub, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, username := resolveIdentity(db, c.Query("userId"))

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			id:       uuid.New(),
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, sendBufferSize),
			userID:   userID,
			username: username,
		}
		hub.Attach(client)

		go client.writePump()
		client.readPump()
	}
}

func resolveIdentity(db *gorm.DB, raw string) (uint, string) {
	if raw == "" || raw == "undefined" {
		return 0, ""
	}
	id64, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id64 == 0 {
		log.Debug().Str("user_id", raw).Msg("unparseable handshake identity, treating as anonymous")
		return 0, ""
	}
	if db != nil {
		var user models.User
		if err := db.First(&user, uint(id64)).Error; err != nil {
			log.Debug().Uint64("user_id", id64).Msg("unknown handshake identity, treating as anonymous")
			return 0, ""
		}
		return user.ID, user.Username
	}
	return uint(id64), ""
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id.String()).Uint("user_id", c.userID).Msg("websocket read")
			}
			break
		}
		c.dispatch(data)
	}
}

// dispatch 处理一条上行事件。格式错的消息丢弃不断连。
func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Uint("user_id", c.userID).Msg("malformed client event ignored")
		return
	}
	switch env.Event {
	case EvtJoinRoom:
		var p joinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.hub.Join(c, p.RoomID)
	case EvtLeaveRoom:
		var p joinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.hub.Leave(c, p.RoomID)
	case EvtTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.hub.Typing(c, p.RoomID, p.DisplayName, p.IsTyping)
	default:
		log.Debug().Str("event", env.Event).Uint("user_id", c.userID).Msg("unknown client event ignored")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
