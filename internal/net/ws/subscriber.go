package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arena-shooter/server/internal/net/proto"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultSendQueue = 16
)

var (
	errSendQueueFull    = errors.New("send queue full")
	errSubscriberClosed = errors.New("subscriber closed")
)

// frameConn is the write side of a websocket connection.
type frameConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber is one websocket connection attached to an instance. Frames are
// queued and written by the subscriber's own writer goroutine, so a slow
// client never blocks the tick driver.
type subscriber struct {
	id        string
	sessionID string
	encoding  proto.Encoding
	writeWait time.Duration

	conn      frameConn
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id, sessionID string, conn frameConn, encoding proto.Encoding, writeWait time.Duration, queueSize int) *subscriber {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if queueSize <= 0 {
		queueSize = defaultSendQueue
	}
	return &subscriber{
		id:        id,
		sessionID: sessionID,
		encoding:  encoding,
		writeWait: writeWait,
		conn:      conn,
		queue:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// send encodes msg and queues it behind any frames already pending. A full
// queue means the client stopped reading; the caller should drop it.
func (s *subscriber) send(msg any) error {
	data, err := s.encoding.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSubscriberClosed
	default:
	}
	if !s.enqueue(data) {
		return errSendQueueFull
	}
	return nil
}

// enqueue queues data without blocking.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue until the subscriber closes or a write fails.
// failed is called once with the write error before the connection closes.
func (s *subscriber) writeLoop(failed func(*subscriber, error)) {
	for {
		select {
		case data := <-s.queue:
			if err := s.write(data); err != nil {
				if failed != nil {
					failed(s, err)
				}
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) write(data []byte) error {
	messageType := websocket.TextMessage
	if s.encoding.Binary() {
		messageType = websocket.BinaryMessage
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close shuts the socket once, which also ends the read loop and the writer.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
