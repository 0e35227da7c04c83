package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Mirror caches rendered artifacts from the backend into an ArtifactStore
// so repeat downloads don't hit the render service.
type Mirror struct {
	store  ArtifactStore
	client *http.Client
}

func NewMirror(store ArtifactStore) *Mirror {
	return &Mirror{
		store:  store,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

func artifactKey(recordID int64) string {
	return fmt.Sprintf("record-%d.mp4", recordID)
}

// Fetch returns the artifact for a record, downloading it from url on a
// cache miss. The caller owns the returned reader.
func (m *Mirror) Fetch(ctx context.Context, recordID int64, url string) (io.ReadCloser, error) {
	key := artifactKey(recordID)

	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return m.store.Get(ctx, key)
	}

	log.Debug().Int64("record_id", recordID).Str("url", url).Msg("Mirroring render artifact")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact download failed with status %d", resp.StatusCode)
	}

	if _, err := m.store.Put(ctx, key, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	return m.store.Get(ctx, key)
}
