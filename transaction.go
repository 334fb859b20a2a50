package cdpdrive

import "github.com/chromedp/cdproto"

// Transaction is a pending outbound command awaiting its response. It is
// the unit of request/response correlation between Connection.send and
// the Listener: Connection assigns the id and registers the Transaction,
// the Listener completes it (by id) when the matching frame arrives.
type Transaction struct {
	ID     int64
	Method cdproto.MethodType
	Params []byte

	// done carries the raw response frame (success or protocol error) to
	// whoever is awaiting this Transaction. It is buffered by one so the
	// Listener never blocks delivering it, even if the waiter has
	// already given up (context cancelled, Connection closed).
	done chan *cdproto.Message

	// err, set only by fail before done is closed (never alongside a
	// send on done), is why the Transaction was abandoned without ever
	// getting a response -- e.g. the *TransportError that stopped the
	// Listener's read loop. A waiter that reads !ok from done must read
	// err afterwards to recover the real reason instead of a placeholder.
	err error
}

// newTransaction allocates a Transaction with its completion channel
// ready to receive.
func newTransaction(id int64, method cdproto.MethodType, params []byte) *Transaction {
	return &Transaction{
		ID:     id,
		Method: method,
		Params: params,
		done:   make(chan *cdproto.Message, 1),
	}
}

// complete resolves the Transaction with a response frame. It is called
// exactly once, from the Listener goroutine.
func (t *Transaction) complete(msg *cdproto.Message) {
	t.done <- msg
}

// fail abandons the Transaction with err instead of a response, closing
// done so any current or future waiter unblocks immediately. Called at
// most once, in place of complete, when the Connection is torn down with
// this Transaction still in flight.
func (t *Transaction) fail(err error) {
	t.err = err
	close(t.done)
}

// EventTransaction wraps a parsed event using the same completion
// abstraction as Transaction, so a history/logging facility can treat
// commands and events uniformly. Unlike a Transaction, an EventTransaction
// is created already resolved: there is nothing to await.
type EventTransaction struct {
	Method cdproto.MethodType
	Value  interface{}
}

// newEventTransaction wraps an already-parsed event value.
func newEventTransaction(method cdproto.MethodType, value interface{}) *EventTransaction {
	return &EventTransaction{Method: method, Value: value}
}
