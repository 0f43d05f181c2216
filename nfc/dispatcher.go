package nfc

import (
	"context"
	"sync/atomic"
	"time"
)

// CommandState is the completion state of a command.
type CommandState int32

const (
	CommandPending CommandState = iota
	CommandSucceeded
	CommandFailed
	CommandTimedOut
	CommandCancelled
)

func (s CommandState) String() string {
	switch s {
	case CommandPending:
		return "pending"
	case CommandSucceeded:
		return "succeeded"
	case CommandFailed:
		return "failed"
	case CommandTimedOut:
		return "timedOut"
	case CommandCancelled:
		return "cancelled"
	}
	return "unknown"
}

// PendingCommand is an admitted command. Wait releases the caller until the
// command resolves.
type PendingCommand struct {
	id       uint64
	opcode   Opcode
	payload  []byte
	issuedAt time.Time

	state  atomic.Int32
	done   chan struct{}
	result Result
	err    error
}

func (p *PendingCommand) ID() uint64          { return p.id }
func (p *PendingCommand) Opcode() Opcode      { return p.opcode }
func (p *PendingCommand) IssuedAt() time.Time { return p.issuedAt }

// Done is closed when the command resolves.
func (p *PendingCommand) Done() <-chan struct{} { return p.done }

func (p *PendingCommand) State() CommandState {
	return CommandState(p.state.Load())
}

// Wait blocks until the command resolves or ctx ends. Giving up on the wait
// does not cancel the command.
func (p *PendingCommand) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, fromContext(string(p.opcode), ctx.Err())
	}
}

func (p *PendingCommand) resolve(state CommandState, res Result, err error) bool {
	if !p.state.CompareAndSwap(int32(CommandPending), int32(state)) {
		return false
	}
	p.result = res
	p.err = err
	close(p.done)
	return true
}

// dispatcher holds the single outstanding command of a session. It is owned
// by the manager strand.
type dispatcher struct {
	clock   Clock
	timeout time.Duration
	nextID  *uint64
	pending *PendingCommand
}

func (d *dispatcher) busy() bool {
	return d.pending != nil
}

// admit records a new pending command and arms its timer. onTimeout runs
// off-strand and must post back into it.
func (d *dispatcher) admit(op Opcode, payload []byte, onTimeout func(id uint64)) *PendingCommand {
	*d.nextID++
	p := &PendingCommand{
		id:       *d.nextID,
		opcode:   op,
		payload:  clone(payload),
		issuedAt: d.clock.Now(),
		done:     make(chan struct{}),
	}
	d.pending = p

	timeout := d.timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	timer := d.clock.NewTimer(timeout)
	go func() {
		select {
		case <-timer.C():
			onTimeout(p.id)
		case <-p.done:
			timer.Stop()
		}
	}()
	return p
}

// take detaches the pending command if it matches id.
func (d *dispatcher) take(id uint64) *PendingCommand {
	if d.pending == nil || d.pending.id != id {
		return nil
	}
	p := d.pending
	d.pending = nil
	return p
}

// takeAny detaches whatever command is pending.
func (d *dispatcher) takeAny() *PendingCommand {
	p := d.pending
	d.pending = nil
	return p
}
