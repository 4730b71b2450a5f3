package audit

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

func TestPubSubMirrorPublishesCommittedEvents(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := pubsub.NewClient(ctx, "steward-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "governance-audit")
	require.NoError(t, err)

	mirror, err := NewPubSubMirror(ctx, "steward-test", "governance-audit", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mirror.Close() })

	engine, _ := newTestEngine(t, ledger.NewInMemoryStore(), WithMirror(mirror))
	committed, err := engine.Record(ctx, decisionEvent("r1"))
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, types.SubsystemGateway, msgs[0].Attributes["subsystem"])
	require.Equal(t, string(types.CodeTierRestricted), msgs[0].Attributes["reason_code"])
	require.Equal(t, "1", msgs[0].Attributes["seq"])

	var published types.AuditEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &published))
	require.Equal(t, committed.Digest, published.Digest)
}

func TestLogMirror(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mirror := NewLogMirror(zap.New(core))

	require.NoError(t, mirror.Mirror(context.Background(), types.AuditEvent{Seq: 7, Subsystem: types.SubsystemCouncil, Action: "cast_vote"}))

	entries := logs.FilterMessage("audit event").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(7), entries[0].ContextMap()["seq"])
	require.Equal(t, "cast_vote", entries[0].ContextMap()["action"])
}
