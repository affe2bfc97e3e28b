package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFireSignsAndDelivers(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var sigs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		sigs = append(sigs, r.Header.Get(SignatureHeader))
		mu.Unlock()
	}))
	defer srv.Close()

	d := New([]string{srv.URL + "/a", srv.URL + "/b"}, "s3cret", nil)
	d.Fire(context.Background(), "video.succeeded", map[string]string{"job_id": "42"})
	d.Wait()

	require.Len(t, bodies, 2)
	for i, b := range bodies {
		assert.Equal(t, "video.succeeded", gjson.GetBytes(b, "type").String())
		assert.Equal(t, "42", gjson.GetBytes(b, "data.job_id").String())
		assert.Equal(t, Sign("s3cret", b), sigs[i])
	}
}

func TestFireWithoutTargetsIsNoop(t *testing.T) {
	d := New(nil, "", nil)
	d.Fire(context.Background(), "video.failed", nil)
	d.Wait()
}

func TestSignIsStable(t *testing.T) {
	assert.Equal(t, Sign("k", []byte("body")), Sign("k", []byte("body")))
	assert.NotEqual(t, Sign("k", []byte("body")), Sign("other", []byte("body")))
	assert.Len(t, Sign("k", nil), 64)
}
