//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"hr-messenger/domain"
	"hr-messenger/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink delivers events to one realtime connection.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry maps connections to the room of the user they joined as.
type IRegistry interface {
	Subscribe(connectionID domain.ConnectionID, roomID domain.RoomID, sink EventSink) bool
	Unsubscribe(connectionID domain.ConnectionID)
	GetSinksForRoom(roomID domain.RoomID, exclude domain.ConnectionID) []EventSink
	ConnectionCount() int
	RoomCount() int
}
