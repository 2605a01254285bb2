package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/notify"
)

func TestDedupKeepsLastWriteKind(t *testing.T) {
	events := []change.Event{
		{ClassIRI: "ex:Person", SubjectID: 1, Kind: change.EventAdd},
		{ClassIRI: "ex:Person", SubjectID: 1, Kind: change.EventUpdate},
		{ClassIRI: "ex:Person", SubjectID: 2, Kind: change.EventAdd},
	}
	out := notify.Dedup(events)
	require.Len(t, out, 2)
	require.Equal(t, change.EventUpdate, out[0].Kind)
	require.EqualValues(t, 2, out[1].SubjectID)
}

func TestPublishDeliversOnlyToSubscribedClass(t *testing.T) {
	n := notify.New(zerolog.Nop())

	var mu sync.Mutex
	var gotPerson, gotDoc int
	var wg sync.WaitGroup
	wg.Add(1)
	n.Subscribe("ex:Person", func(classIRI string, subjectID int64, kind change.EventKind) {
		mu.Lock()
		gotPerson++
		mu.Unlock()
		wg.Done()
	})
	n.Subscribe("ex:Document", func(classIRI string, subjectID int64, kind change.EventKind) {
		mu.Lock()
		gotDoc++
		mu.Unlock()
	})

	n.Publish([]change.Event{{ClassIRI: "ex:Person", SubjectID: 1, Kind: change.EventAdd}})

	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, gotPerson)
	require.Equal(t, 0, gotDoc)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := notify.New(zerolog.Nop())
	var mu sync.Mutex
	count := 0
	id := n.Subscribe("ex:Person", func(classIRI string, subjectID int64, kind change.EventKind) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	n.Unsubscribe(id)
	n.Publish([]change.Event{{ClassIRI: "ex:Person", SubjectID: 1, Kind: change.EventAdd}})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for notification")
	}
}
