package ws

import (
	"context"
	"errors"
	"sync"

	"sfera/internal/protocol"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(userID string) chan protocol.Envelope
	Leave(userID string, ch chan protocol.Envelope)
	Dispatch(userID string, env protocol.Envelope)
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	fromClient chan protocol.Envelope
	fromServer chan protocol.Envelope
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		fromClient: make(chan protocol.Envelope),
		fromServer: hub.Join(userID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	}()

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var env protocol.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return err
		}
		select {
		case c.fromClient <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case env := <-c.fromClient:
			c.hub.Dispatch(c.userID, env)
		case env, ok := <-c.fromServer:
			if !ok {
				// A newer connection for this user took over.
				return nil
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
