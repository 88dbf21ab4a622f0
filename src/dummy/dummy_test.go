package dummy

import (
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/carbonforge/broadcast/src/common"
	"github.com/carbonforge/broadcast/src/journal"
	bnet "github.com/carbonforge/broadcast/src/net"
	"github.com/pkg/errors"
)

const timeout = 3 * time.Second

var hubCreds = broadcast.Credentials{Key: "chat", MinVersion: 1, MaxVersion: 1}

func newTestHub(t *testing.T, j journal.Journal, history int) (*Hub, *bnet.InmemStreamLayer) {
	logger := common.NewPrefixedTestEntry(t, "hub", common.TestLogLevel)

	layer := bnet.NewInmemStreamLayer("", 0, logger)
	hub := NewHub(broadcast.NewSession(logger), j, history, logger)
	if err := hub.Serve(layer, hubCreds); err != nil {
		t.Fatal(err)
	}
	return hub, layer
}

func join(t *testing.T, layer *bnet.InmemStreamLayer, moniker string) *Client {
	t.Helper()

	logger := common.NewPrefixedTestEntry(t, moniker, common.TestLogLevel)

	c := NewClient(broadcast.NewSession(logger), moniker, 64, logger)
	if err := c.Join(layer, layer.Addr(), broadcast.ClientCredentials("chat", 1)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-c.Ready():
	case <-time.After(timeout):
		t.Fatalf("%s timed out joining", moniker)
	}
	return c
}

func expectMessages(t *testing.T, c *Client, want ...string) {
	t.Helper()

	for _, w := range want {
		select {
		case m := <-c.Messages():
			if m.String() != w {
				t.Fatalf("%s expected %q, got %q", c.moniker, w, m.String())
			}
		case <-time.After(timeout):
			t.Fatalf("%s timed out waiting for %q", c.moniker, w)
		}
	}
}

func TestMessageMarshal(t *testing.T) {
	m := NewMessage("alice", "hello world")

	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var out Message
	if err := out.Unmarshal(data); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m, out) {
		t.Fatalf("message should be %#v, not %#v", m, out)
	}
}

func TestHubRelay(t *testing.T) {
	hub, layer := newTestHub(t, nil, DefaultHistory)
	defer hub.Close()

	alice := join(t, layer, "alice")
	defer alice.Leave()
	bob := join(t, layer, "bob")
	defer bob.Leave()

	if err := alice.Say("hello"); err != nil {
		t.Fatal(err)
	}
	expectMessages(t, alice, "alice: hello")
	expectMessages(t, bob, "alice: hello")

	if err := bob.Say("hi alice"); err != nil {
		t.Fatal(err)
	}
	expectMessages(t, alice, "bob: hi alice")
	expectMessages(t, bob, "bob: hi alice")

	if idx := hub.Journal().LastIndex(); idx != 1 {
		t.Fatalf("journal last index should be 1, not %d", idx)
	}
}

func TestHubReplaysHistory(t *testing.T) {
	hub, layer := newTestHub(t, nil, 2)
	defer hub.Close()

	alice := join(t, layer, "alice")
	defer alice.Leave()

	var lines []string
	for i := 0; i < 3; i++ {
		text := fmt.Sprintf("line %d", i)
		if err := alice.Say(text); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, "alice: "+text)
	}
	expectMessages(t, alice, lines...)

	bob := join(t, layer, "bob")
	defer bob.Leave()

	// only the last two
	expectMessages(t, bob, lines[1:]...)

	select {
	case m := <-bob.Messages():
		t.Fatalf("unexpected message %q", m.String())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubPersistentHistory(t *testing.T) {
	dir, err := ioutil.TempDir("", "hub_journal")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	logger := common.NewTestEntry(t, common.TestLogLevel)

	j, err := journal.NewBadgerJournal(dir, 8, logger)
	if err != nil {
		t.Fatal(err)
	}
	hub, layer := newTestHub(t, j, 8)

	alice := join(t, layer, "alice")
	if err := alice.Say("before restart"); err != nil {
		t.Fatal(err)
	}
	expectMessages(t, alice, "alice: before restart")
	alice.Leave()

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = journal.NewBadgerJournal(dir, 8, logger)
	if err != nil {
		t.Fatal(err)
	}
	hub, layer = newTestHub(t, j, 8)
	defer hub.Close()

	bob := join(t, layer, "bob")
	defer bob.Leave()

	expectMessages(t, bob, "alice: before restart")
}

func TestClientNotifiedWhenHubCloses(t *testing.T) {
	hub, layer := newTestHub(t, nil, 0)

	alice := join(t, layer, "alice")
	defer alice.Leave()

	hub.Close()

	select {
	case <-alice.Closed():
	case <-time.After(timeout):
		t.Fatal("client was not notified")
	}

	if err := alice.Say("anyone?"); err != broadcast.ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestClientWaitReady(t *testing.T) {
	hub, layer := newTestHub(t, nil, 0)
	defer hub.Close()

	logger := common.NewPrefixedTestEntry(t, "alice", common.TestLogLevel)
	alice := NewClient(broadcast.NewSession(logger), "alice", 64, logger)
	if err := alice.Join(layer, layer.Addr(), broadcast.ClientCredentials("chat", 1)); err != nil {
		t.Fatal(err)
	}
	defer alice.Leave()

	if err := alice.WaitReady(timeout); err != nil {
		t.Fatal(err)
	}
}

func TestClientRejectedByHub(t *testing.T) {
	hub, layer := newTestHub(t, nil, 0)
	defer hub.Close()

	cases := []struct {
		name  string
		creds broadcast.Credentials
	}{
		{"wrong key", broadcast.ClientCredentials("chit", 1)},
		{"wrong version", broadcast.ClientCredentials("chat", 2)},
	}

	for _, c := range cases {
		logger := common.NewPrefixedTestEntry(t, c.name, common.TestLogLevel)
		client := NewClient(broadcast.NewSession(logger), "mallory", 64, logger)
		if err := client.Join(layer, layer.Addr(), c.creds); err != nil {
			t.Fatal(err)
		}

		start := time.Now()
		if err := client.WaitReady(timeout); err != ErrRejected {
			t.Fatalf("%s: expected ErrRejected, got %v", c.name, err)
		}
		if elapsed := time.Since(start); elapsed >= timeout {
			t.Fatalf("%s: rejection took %v", c.name, elapsed)
		}
		client.Leave()
	}
}

func TestClientWaitReadyTimeout(t *testing.T) {
	// a listener that accepts but never speaks
	layer := bnet.NewInmemStreamLayer("", 0, common.NewTestEntry(t, common.TestLogLevel))
	defer layer.Close()

	go func() {
		s, err := layer.Accept()
		if err != nil {
			return
		}
		defer s.Close()
		time.Sleep(time.Second)
	}()

	logger := common.NewPrefixedTestEntry(t, "alice", common.TestLogLevel)
	alice := NewClient(broadcast.NewSession(logger), "alice", 64, logger)
	if err := alice.Join(layer, layer.Addr(), broadcast.ClientCredentials("chat", 1)); err != nil {
		t.Fatal(err)
	}
	defer alice.Leave()

	err := alice.WaitReady(100 * time.Millisecond)
	if err == nil || err == ErrRejected {
		t.Fatalf("expected a timeout, got %v", err)
	}
}

// brokenJournal fails every write.
type brokenJournal struct {
	journal.Journal
}

func (brokenJournal) Append(r journal.Record) (journal.Record, error) {
	return journal.Record{}, errors.New("disk full")
}

func TestHubRelaysWhenJournalFails(t *testing.T) {
	hub, layer := newTestHub(t, brokenJournal{journal.NewInmemJournal(8)}, 8)
	defer hub.Close()

	alice := join(t, layer, "alice")
	defer alice.Leave()
	bob := join(t, layer, "bob")
	defer bob.Leave()

	if err := alice.Say("still there"); err != nil {
		t.Fatal(err)
	}
	expectMessages(t, alice, "alice: still there")
	expectMessages(t, bob, "alice: still there")

	if idx := hub.Journal().LastIndex(); idx != -1 {
		t.Fatalf("nothing should be journaled, last index is %d", idx)
	}
}
