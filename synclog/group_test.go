package synclog

import (
	"context"
	"testing"

	"github.com/hashledger/hashledger/bbs"
	"github.com/hashledger/hashledger/dblog"
	"github.com/hashledger/hashledger/identity"
	"github.com/hashledger/hashledger/mls"
	"github.com/hashledger/hashledger/transport"
)

func newTestGroupController(t *testing.T, srv *transport.LocalServer, mgr *bbs.ManagerPrivateKey, db string) *GroupController {
	t.Helper()
	ctx := context.Background()

	leafPriv, leafPub, err := identity.GenerateLeafKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	gs, _, _, err := mls.CreateGroup(leafPriv, leafPub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.CreateGroup(ctx, transport.CreateGroupRequest{GroupID: gs.GroupID}); err != nil {
		t.Fatal(err)
	}

	cred, err := bbs.Issue(mgr)
	if err != nil {
		t.Fatal(err)
	}
	self, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	engine, err := dblog.Open("file:" + gs.GroupID + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	gc, err := NewGroupController(db, gs.GroupID, srv, engine, gs, cred, mgr.PublicKey, self)
	if err != nil {
		t.Fatal(err)
	}
	return gc
}

func TestGroupAppendAndApply(t *testing.T) {
	ctx := context.Background()
	srv := transport.NewLocalServer()
	mgr, err := bbs.Setup()
	if err != nil {
		t.Fatal(err)
	}
	gc := newTestGroupController(t, srv, mgr, "notes")

	tables, err := gc.Append(ctx, []dblog.Action{
		{V: 2, DBLogIndex: 0, Table: "notes", Type: dblog.ActionSchema, Columns: map[string]string{"id": "TEXT PRIMARY KEY", "body": "TEXT"}},
		{V: 2, DBLogIndex: 1, Table: "notes", Type: dblog.ActionSet, ID: "n1", Data: map[string]any{"body": "hello"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0] != "notes" {
		t.Fatalf("expected notes touched, got %v", tables)
	}
	if gc.Head() == nil || gc.Head().Index != 0 {
		t.Fatalf("expected head at index 0, got %+v", gc.Head())
	}
}

func TestGroupEpochTransition(t *testing.T) {
	ctx := context.Background()
	srv := transport.NewLocalServer()
	mgr, err := bbs.Setup()
	if err != nil {
		t.Fatal(err)
	}
	gc := newTestGroupController(t, srv, mgr, "notes")

	trustedBefore := gc.TrustedKey()

	newGroupKey := make([]byte, 32)
	for i := range newGroupKey {
		newGroupKey[i] = byte(i + 1)
	}
	if _, err := gc.AppendEpochTransition(ctx, 1, newGroupKey); err != nil {
		t.Fatalf("epoch transition append failed: %v", err)
	}

	if gc.trustedEpoch != 1 {
		t.Fatalf("expected trusted epoch to advance to 1, got %d", gc.trustedEpoch)
	}
	trustedAfter := gc.TrustedKey()
	if string(trustedAfter.Key) == string(trustedBefore.Key) {
		t.Fatal("expected trusted key to change after transition")
	}

	if _, ok := gc.KeyForEpoch(1); !ok {
		t.Fatal("expected epoch 1 access key to be registered")
	}
	if _, ok := gc.groupKeysByEpoch[1]; !ok {
		t.Fatal("expected epoch 1 MLS key to be bound locally")
	}
}

func TestGroupTwoMembersConverge(t *testing.T) {
	ctx := context.Background()
	srv := transport.NewLocalServer()
	mgr, err := bbs.Setup()
	if err != nil {
		t.Fatal(err)
	}

	author := newTestGroupController(t, srv, mgr, "notes")

	leafPriv, _, err := identity.GenerateLeafKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	readerGS := &mls.GroupState{
		GroupID:      author.group.GroupID,
		Epoch:        author.group.Epoch,
		Tree:         author.group.Tree,
		MyLeafIndex:  author.group.MyLeafIndex,
		MyPrivateKey: leafPriv,
		PathSecrets:  author.group.PathSecrets,
		GroupKey:     author.group.GroupKey,
	}
	readerCred, err := bbs.Issue(mgr)
	if err != nil {
		t.Fatal(err)
	}
	readerSelf, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	readerEngine, err := dblog.Open("file:" + author.groupID + "-reader?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = readerEngine.Close() })
	reader, err := NewGroupController("notes", author.groupID, srv, readerEngine, readerGS, readerCred, mgr.PublicKey, readerSelf)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := author.Append(ctx, []dblog.Action{
		{V: 1, DBLogIndex: 0, Table: "notes", Type: dblog.ActionSchema, Columns: map[string]string{"id": "TEXT PRIMARY KEY"}},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := reader.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if reader.Head() == nil || reader.Head().Index != 0 {
		t.Fatalf("expected reader to converge to index 0, got %+v", reader.Head())
	}
}
