package queue

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
)

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	l, err := log.GetLogger(log.OutputOff.String(), "debug")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func sampleState() State {
	msg := mail.NewMessage([]string{"bob@example.com"}, "alice@example.com", "Hi", "hello\n")
	msg.Cc = []string{"dave@example.com"}
	msg.Date = "2026-08-24 10:30:00"
	enc := msg.Copy()
	enc.Encrypted = true
	enc.Parsed = true
	return State{
		Incoming: []LocalEntry{{User: "bob", Msg: msg}},
		Outgoing: []*mail.Envelope{
			{
				Message:        *enc,
				SMTPFrom:       "alice@example.com",
				SMTPRecipients: []string{"bob@example.com", "carol@remote.test"},
			},
		},
	}
}

func assertStatesEqual(t *testing.T, got, want State) {
	t.Helper()
	if len(got.Incoming) != len(want.Incoming) || len(got.Outgoing) != len(want.Outgoing) {
		t.Fatalf("depth mismatch: got %d/%d want %d/%d",
			len(got.Incoming), len(got.Outgoing), len(want.Incoming), len(want.Outgoing))
	}
	for i := range want.Incoming {
		if got.Incoming[i].User != want.Incoming[i].User {
			t.Error("user mismatch:", got.Incoming[i].User)
		}
		if !reflect.DeepEqual(*got.Incoming[i].Msg, *want.Incoming[i].Msg) {
			t.Errorf("message mismatch: %+v", *got.Incoming[i].Msg)
		}
	}
	for i := range want.Outgoing {
		if !reflect.DeepEqual(*got.Outgoing[i], *want.Outgoing[i]) {
			t.Errorf("envelope mismatch: %+v", *got.Outgoing[i])
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	want := sampleState()
	if err := fs.Save(want); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	assertStatesEqual(t, got, want)
}

func TestFileStoreMissingFile(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	state, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if in, out := state.Depth(); in != 0 || out != 0 {
		t.Error("expected empty state, got", in, out)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "incoming.dat"), []byte{99, 1, 2, 3}, 0600); err != nil {
		t.Fatal(err)
	}
	state, err := fs.Load()
	if err != nil {
		t.Fatal("corrupt file must not fail startup:", err)
	}
	if in, out := state.Depth(); in != 0 || out != 0 {
		t.Error("expected empty state after corruption, got", in, out)
	}
}

func TestFileStoreCorruptionIsPerQueue(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Save(sampleState()); err != nil {
		t.Fatal(err)
	}
	// mangling one queue's file must not lose the other queue
	if err := os.WriteFile(filepath.Join(dir, "incoming.dat"), []byte{99, 1, 2, 3}, 0600); err != nil {
		t.Fatal(err)
	}
	state, err := fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if in, out := state.Depth(); in != 0 || out != 1 {
		t.Error("expected only the corrupt queue discarded, got", in, out)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := NewRedisStore(mr.Addr(), testLogger(t))
	defer rs.Close()

	// empty key yields empty state
	state, err := rs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if in, out := state.Depth(); in != 0 || out != 0 {
		t.Error("expected empty state, got", in, out)
	}

	want := sampleState()
	if err := rs.Save(want); err != nil {
		t.Fatal(err)
	}
	got, err := rs.Load()
	if err != nil {
		t.Fatal(err)
	}
	assertStatesEqual(t, got, want)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := NewRedisStore(mr.Addr(), testLogger(t))
	defer rs.Close()

	mr.Set(redisKey, "not a queue state")
	state, err := rs.Load()
	if err != nil {
		t.Fatal(err)
	}
	if in, out := state.Depth(); in != 0 || out != 0 {
		t.Error("expected empty state after corruption, got", in, out)
	}
}
