package stateroom

import "context"

// ContextSink is the capability surface through which a guest reaches the
// outside world. It is held by strong shared reference by both the
// supervisor and each of the instance's three host-import closures, and
// must tolerate being called from whatever goroutine is currently driving
// the owning instance. A sink holds no data that must outlive its room.
type ContextSink interface {
	SendMessage(recipient MessageRecipient, text string)
	SendBinary(recipient MessageRecipient, payload []byte)
	SetTimer(durationMS uint32)
}

// Service is the session-service capability a guest instance implements:
// the five methods the supervisor drives as client events arrive.
type Service interface {
	Connect(cid ClientID)
	Disconnect(cid ClientID)
	Message(cid ClientID, text string)
	Binary(cid ClientID, payload []byte)
	Timer()
}

// ServiceFactory builds one Service per room. The supervisor calls it once
// per room with a fresh ContextSink; it is the only way a Service is ever
// constructed from the supervisor's point of view.
type ServiceFactory interface {
	Build(ctx context.Context, roomID string, sink ContextSink) (Service, error)
}

// moduleServiceFactory adapts a ModuleHandle's concrete Build method to the
// ServiceFactory interface, so a ModuleHandle can be handed to code that
// only knows about the host-facing interface in SPEC_FULL.md §6.
type moduleServiceFactory struct {
	handle     *ModuleHandle
	consoleLog Logger
}

// AsServiceFactory returns h wrapped as a ServiceFactory. consoleLog is
// threaded into every Service the factory builds; it may be nil.
func (h *ModuleHandle) AsServiceFactory(consoleLog Logger) ServiceFactory {
	return moduleServiceFactory{handle: h, consoleLog: consoleLog}
}

func (f moduleServiceFactory) Build(ctx context.Context, roomID string, sink ContextSink) (Service, error) {
	instance, err := f.handle.Build(ctx, roomID, sink, f.consoleLog)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// NoOpContextSink discards everything a guest sends it. It is used by
// ModuleLoader.Inspect, which instantiates a module only long enough to
// read its version globals and never delivers client events to it.
type NoOpContextSink struct{}

func (NoOpContextSink) SendMessage(MessageRecipient, string) {}
func (NoOpContextSink) SendBinary(MessageRecipient, []byte)  {}
func (NoOpContextSink) SetTimer(uint32)                      {}
