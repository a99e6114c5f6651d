package driven

import (
	"context"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// AppStore defines the driven port for app records. Get returns (nil, nil)
// when no app exists with the given id; callers decide whether that is an
// error.
type AppStore interface {
	Create(ctx context.Context, app model.App) (model.App, error)
	Get(ctx context.Context, id int64) (*model.App, error)
	// List returns all apps ordered by creation time, newest first.
	List(ctx context.Context) ([]model.App, error)
}
