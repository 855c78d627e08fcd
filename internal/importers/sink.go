package importers

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	db "github.com/JonMunkholm/csvimport/internal/database"
)

// Sink is where importers write. *database.Queries satisfies it.
type Sink interface {
	UpsertContacts(ctx context.Context, arg []db.UpsertContactParams) (int64, error)
	InsertImportedRows(ctx context.Context, arg []db.InsertImportedRowParams) (int64, error)
	DeleteImportedRows(ctx context.Context, recordID pgtype.UUID) (int64, error)
}

type rowKey struct {
	record uuid.UUID
	number int32
}

// MemorySink keeps imported data in process memory. It backs the memory
// storage driver and has the same conflict rules as the tables.
type MemorySink struct {
	mu       sync.RWMutex
	contacts map[string]db.ImportedContact
	rows     map[rowKey][]byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		contacts: make(map[string]db.ImportedContact),
		rows:     make(map[rowKey][]byte),
	}
}

func (m *MemorySink) UpsertContacts(_ context.Context, arg []db.UpsertContactParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range arg {
		m.contacts[a.Email] = db.ImportedContact{
			Email:     a.Email,
			FirstName: a.FirstName,
			LastName:  a.LastName,
			Company:   a.Company,
			RecordID:  a.RecordID,
		}
	}
	return int64(len(arg)), nil
}

func (m *MemorySink) InsertImportedRows(_ context.Context, arg []db.InsertImportedRowParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range arg {
		key := rowKey{record: uuid.UUID(a.RecordID.Bytes), number: a.RowNumber}
		if _, exists := m.rows[key]; exists {
			continue
		}
		m.rows[key] = append([]byte(nil), a.Data...)
		n++
	}
	return n, nil
}

func (m *MemorySink) DeleteImportedRows(_ context.Context, recordID pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.UUID(recordID.Bytes)
	var n int64
	for key := range m.rows {
		if key.record == id {
			delete(m.rows, key)
			n++
		}
	}
	return n, nil
}

// Contact returns a stored contact by email.
func (m *MemorySink) Contact(email string) (db.ImportedContact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[email]
	return c, ok
}

// ContactCount returns the number of stored contacts.
func (m *MemorySink) ContactCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contacts)
}

// RowCount returns the number of archived rows for a record.
func (m *MemorySink) RowCount(recordID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for key := range m.rows {
		if key.record == recordID {
			n++
		}
	}
	return n
}
