package trigger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

type fakeLauncher struct {
	mu       sync.Mutex
	launched []model.DocumentKey
	cleared  []model.DocumentKey
	as       []store.Principal
	err      error
}

func (f *fakeLauncher) LaunchAnalysis(_ context.Context, principal store.Principal, key model.DocumentKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launched = append(f.launched, key)
	f.as = append(f.as, principal)
	return nil
}

func (f *fakeLauncher) ClearProgressStatus(key model.DocumentKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, key)
}

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Notification
		wantErr bool
	}{
		{
			name:    "changed",
			payload: `{"repository":"main","documentId":"doc-1","deleted":false}`,
			want:    Notification{Repository: "main", DocumentID: "doc-1"},
		},
		{
			name:    "deleted",
			payload: `{"repository":"main","documentId":"doc-1","deleted":true}`,
			want:    Notification{Repository: "main", DocumentID: "doc-1", Deleted: true},
		},
		{name: "not json", payload: `doc-1`, wantErr: true},
		{name: "missing id", payload: `{"repository":"main"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNotification(tt.payload)
			if tt.wantErr {
				assert.True(t, pferrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListener_Handle(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{}
	l := NewListener("", launcher, WithPrincipal("indexer"))

	l.Handle(ctx, `{"repository":"main","documentId":"doc-1"}`)
	l.Handle(ctx, `{"repository":"main","documentId":"doc-2","deleted":true}`)
	l.Handle(ctx, `garbage`)

	assert.Equal(t, []model.DocumentKey{{Repository: "main", DocumentID: "doc-1"}}, launcher.launched)
	assert.Equal(t, []store.Principal{"indexer"}, launcher.as)
	assert.Equal(t, []model.DocumentKey{{Repository: "main", DocumentID: "doc-2"}}, launcher.cleared)
}

func TestListener_HandleSurvivesLaunchErrors(t *testing.T) {
	launcher := &fakeLauncher{err: pferrors.ErrShuttingDown}
	l := NewListener("", launcher)

	l.Handle(context.Background(), `{"repository":"main","documentId":"doc-1"}`)
	assert.Empty(t, launcher.launched)
}

func TestNewListener_Defaults(t *testing.T) {
	l := NewListener("postgres://localhost/penf", &fakeLauncher{}, WithChannel(""))
	assert.Equal(t, DefaultChannel, l.channel)
	assert.Equal(t, store.SystemPrincipal, l.principal)
}
