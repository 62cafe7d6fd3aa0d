package txn

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"plstrdash/pkg/errs"
	"plstrdash/pkg/models"
)

// Field names a form input.
type Field string

const (
	FieldAmount    Field = "amount"
	FieldToken     Field = "token"
	FieldRecipient Field = "recipient"
	FieldNewOwner  Field = "new_owner"
)

// FieldsFor lists the inputs a kind of transaction takes, in display order.
func FieldsFor(kind models.TxKind) []Field {
	switch kind {
	case models.TxRecover:
		return []Field{FieldToken, FieldRecipient, FieldAmount}
	case models.TxTransferOwnership:
		return []Field{FieldNewOwner}
	}
	return []Field{FieldAmount}
}

// Form holds the inputs and submission state of one kind of transaction.
// Only one submission per form may be pending.
type Form struct {
	kind models.TxKind

	mu     sync.Mutex
	fields map[Field]string
	state  models.TxStatus
	err    error
	hashes []common.Hash
}

func newForm(kind models.TxKind) *Form {
	return &Form{kind: kind, fields: make(map[Field]string), state: models.TxIdle}
}

func (f *Form) Kind() models.TxKind { return f.kind }

// Set updates an input. It is ignored while a submission is pending.
func (f *Form) Set(field Field, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == models.TxPending {
		return
	}
	f.fields[field] = v
}

func (f *Form) Get(field Field) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields[field]
}

func (f *Form) State() models.TxStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the failure of the last submission, nil unless State is failed.
func (f *Form) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Hashes returns the transactions sent by the last submission.
func (f *Form) Hashes() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Hash(nil), f.hashes...)
}

// Dismiss returns a settled form to idle, keeping its inputs.
func (f *Form) Dismiss() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == models.TxPending {
		return
	}
	f.state, f.err, f.hashes = models.TxIdle, nil, nil
}

func (f *Form) busyLocked() error {
	if f.state == models.TxPending {
		return errs.Errorf(errs.Busy, string(f.kind), "a %s transaction is already pending", f.kind)
	}
	return nil
}

func (f *Form) busy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busyLocked()
}

// begin moves the form to pending and records the inputs being submitted.
func (f *Form) begin(values map[Field]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.busyLocked(); err != nil {
		return err
	}
	for k, v := range values {
		f.fields[k] = v
	}
	f.state, f.err, f.hashes = models.TxPending, nil, nil
	return nil
}

// reject fails a submission that never reached the network. The form goes
// straight to failed and keeps the inputs.
func (f *Form) reject(values map[Field]string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.busyLocked(); err != nil {
		return err
	}
	for k, v := range values {
		f.fields[k] = v
	}
	f.state, f.err, f.hashes = models.TxFailed, cause, nil
	return nil
}

func (f *Form) sent(hash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes = append(f.hashes, hash)
}

// finish settles the form. Inputs are cleared on success and kept on failure
// so the user can retry.
func (f *Form) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state, f.err = models.TxFailed, err
		return
	}
	f.state, f.err = models.TxConfirmed, nil
	f.fields = make(map[Field]string)
}
