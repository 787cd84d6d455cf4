package wire

import "github.com/google/uuid"

// NewConnectionId, NewSessionId, NewConsumerId, NewProducerId, and
// NewTransactionId mint the opaque ConnectionId/SessionId/ConsumerId/
// ProducerId/TransactionId string identifiers the Command family carries:
// uuid.New().String(), no embedded structure for callers to parse.

func NewConnectionId() string { return uuid.New().String() }

func NewSessionId() string { return uuid.New().String() }

func NewConsumerId() string { return uuid.New().String() }

func NewProducerId() string { return uuid.New().String() }

func NewTransactionId() string { return uuid.New().String() }
