package litesync_test

import (
	"context"
	"fmt"

	litesync "github.com/litesync/litesync.go"
	"github.com/litesync/litesync.go/pkg/conflict"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/models"
)

func ExampleCollection_AddDocumentChangeListener() {
	ctx := context.Background()
	db, err := litesync.Open("example", nil)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	users, err := db.Collection("users")
	if err != nil {
		panic(err)
	}

	queue := dispatch.NewSerialQueue()
	defer queue.Close()

	changed := make(chan litesync.DocumentChange, 1)
	tok, err := users.AddDocumentChangeListener("alice", queue, func(c litesync.DocumentChange) {
		changed <- c
	})
	if err != nil {
		panic(err)
	}
	defer tok.Remove()

	if _, err := users.Save(ctx, "alice", map[string]any{"age": 30}); err != nil {
		panic(err)
	}
	c := <-changed
	fmt.Println(c.Collection, c.DocumentID)

	// Output:
	// users alice
}

func ExampleCollection_RemoveChangeListener() {
	db, err := litesync.Open("example", nil)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	users, _ := db.Collection("users")
	tok, err := users.AddChangeListener(nil, func(litesync.CollectionChange) {})
	if err != nil {
		panic(err)
	}

	fmt.Println(users.RemoveChangeListener(tok), tok.Removed())
	// A second removal is a no-op.
	fmt.Println(users.RemoveChangeListener(tok), tok.Removed())

	// Output:
	// <nil> true
	// <nil> true
}

func Example_conflictResolution() {
	base := &models.Document{ID: "doc", RevID: "1-aa", Generation: 1}
	local := &models.Document{ID: "doc", RevID: "2-bb", ParentRevID: base.RevID, Generation: 2}
	remote := &models.Document{ID: "doc", RevID: "3-cc", Generation: 3}

	winner, _ := conflict.SafeResolve(nil, conflict.NewConflict(local, remote))
	fmt.Println(winner.RevID)

	tombstone := &models.Document{ID: "doc", RevID: "3-dd", Generation: 3, Deleted: true}
	winner, _ = conflict.SafeResolve(nil, conflict.NewConflict(local, tombstone))
	fmt.Println(winner == nil)

	// Output:
	// 3-cc
	// true
}
