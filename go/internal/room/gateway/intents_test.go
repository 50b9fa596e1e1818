package gateway

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pointroom/go/internal/models"
	"github.com/mcdev12/pointroom/go/internal/room/engine"
)

func TestParseIntent(t *testing.T) {
	intent, err := parseIntent([]byte(`{"type":"join","name":"alice","observer":true}`))
	require.NoError(t, err)
	require.Equal(t, IntentJoin, intent.Type)
	require.Equal(t, "alice", intent.Name)
	require.True(t, intent.Observer)

	intent, err = parseIntent([]byte(`{"type":"vote","value":"5"}`))
	require.NoError(t, err)
	require.Equal(t, IntentVote, intent.Type)
	require.Equal(t, "5", intent.Value)
}

func TestParseIntentRejectsUnknownType(t *testing.T) {
	_, err := parseIntent([]byte(`{"type":"shout"}`))
	require.Error(t, err)

	_, err = parseIntent([]byte(`{}`))
	require.Error(t, err)

	_, err = parseIntent([]byte(`not json`))
	require.Error(t, err)
}

func TestMarshalViewIncludesSummary(t *testing.T) {
	vote := "5"
	v := engine.View{
		Room: &models.Room{ID: uuid.New(), Name: "sprint-42", Status: models.RoomStatusRevealed},
		Participants: []models.Participant{
			{ID: uuid.New(), Name: "alice", Vote: &vote},
			{ID: uuid.New(), Name: "bob", Vote: &vote},
		},
		Version: 7,
	}

	data, err := marshalView(v)
	require.NoError(t, err)

	var out outbound
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "view", out.Type)
	require.Equal(t, uint64(7), out.View.Version)
	require.NotNil(t, out.Summary)
	require.True(t, out.Summary.IsConsensus)
	require.Equal(t, []string{"5"}, out.Summary.TopPicks)
}

func TestMarshalError(t *testing.T) {
	var out outbound
	require.NoError(t, json.Unmarshal(marshalError("room unavailable"), &out))
	require.Equal(t, "error", out.Type)
	require.Equal(t, "room unavailable", out.Error)
}
