package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// TurnState es el estado del turno en curso.
type TurnState string

const (
	TurnIdle      TurnState = "idle"
	TurnComposing TurnState = "composing"
	TurnReady     TurnState = "ready"
	TurnSending   TurnState = "sending"
	TurnStreaming TurnState = "streaming"
	TurnFinalized TurnState = "finalized"
)

type UpdateKind string

const (
	UpdateState    UpdateKind = "state"
	UpdateContent  UpdateKind = "content"
	UpdateInput    UpdateKind = "input"
	UpdateSessions UpdateKind = "sessions"
	UpdateNotice   UpdateKind = "notice"
)

// Update es un evento para la UI.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	SessionID string     `json:"session_id,omitempty"`
	State     TurnState  `json:"state,omitempty"`
	Content   string     `json:"content,omitempty"`
	Notice    string     `json:"notice,omitempty"`
}

const updatesTopic = "conversation.updates"

// updateBus reparte los Update a los observadores sobre un pub/sub en memoria.
// Publish espera el ack de cada observador, asi el orden de entrega es el de emision.
type updateBus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

func newUpdateBus(logger *zap.Logger) *updateBus {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
	return &updateBus{pubSub: pubSub, logger: logger}
}

// subscribe no debe llamarse desde dentro de fn, ni fn debe emitir.
func (b *updateBus) subscribe(fn func(Update)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := b.pubSub.Subscribe(ctx, updatesTopic)
	if err != nil {
		cancel()
		b.logger.Warn("subscribe to updates failed", zap.Error(err))
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			var u Update
			if err := json.Unmarshal(msg.Payload, &u); err != nil {
				b.logger.Warn("decode update failed", zap.Error(err))
			} else {
				fn(u)
			}
			msg.Ack()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (b *updateBus) emit(u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		b.logger.Warn("encode update failed", zap.Error(err))
		return
	}
	// Tras close el pub/sub rechaza mensajes y no hay a quien avisar.
	_ = b.pubSub.Publish(updatesTopic, message.NewMessage(watermill.NewUUID(), payload))
}

func (b *updateBus) close() {
	if err := b.pubSub.Close(); err != nil {
		b.logger.Warn("close update bus failed", zap.Error(err))
	}
}
