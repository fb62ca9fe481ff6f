package changefeed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/walkin-service/internal/model"
)

func TestDecodeFrame(t *testing.T) {
	e := model.Deleted("c1")
	data, err := json.Marshal(Frame{Type: FrameEvent, Event: &e})
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameEvent, f.Type)
	assert.Equal(t, "c1", f.Event.ID)

	_, err = DecodeFrame([]byte(`{"type":"event"}`))
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`{"type":"event","event":{"kind":"updated","id":"c1"}}`))
	assert.Error(t, err, "update without post-image")
	_, err = DecodeFrame([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)

	f, err = DecodeFrame([]byte(`{"type":"ready","scope":"cases:all"}`))
	require.NoError(t, err)
	assert.Equal(t, "cases:all", f.Scope)
}
