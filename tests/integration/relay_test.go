// Integration tests for the WebM relay's publish -> broadcast -> subscribe
// flow, covering spec.md's S1-S6 scenarios end to end against a real
// http.Server.
//
// Adapted from the teacher's tests/integration/relay_test.go: spin up the
// server on a random port, drive it with plain net/http clients, assert on
// response codes and bodies.
package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alxayo/webmrelay/internal/ebml"
	srv "github.com/alxayo/webmrelay/internal/server"
	"github.com/alxayo/webmrelay/tests/golden"
)

func startTestServer(t *testing.T) (*srv.Server, string) {
	t.Helper()
	s := srv.New(srv.Config{ListenAddr: "127.0.0.1:0", ReapWindow: 200 * time.Millisecond})
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, "http://" + s.Addr().String()
}

// S1: no streams -> subscribing returns 404 "this stream is offline".
func TestS1SubscribeToOfflineStreamReturns404(t *testing.T) {
	_, base := startTestServer(t)

	resp, err := http.Get(base + "/stream/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("this stream is offline")) {
		t.Fatalf("expected offline body, got %q", body)
	}
}

// S2: a full 3-cluster publish completes with 204.
func TestS2PublishCompletesWith204(t *testing.T) {
	_, base := startTestServer(t)
	fixture, _ := golden.ThreeClusterStream()

	resp, err := http.Post(base+"/stream/x", "video/webm", bytes.NewReader(fixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

// S3: a subscriber joining mid-POST, between clusters 1 and 2, sees the
// header, then cluster 2 with its Timecode rewritten to 0.
func TestS3MidStreamJoinerSeesRewrittenTimestamps(t *testing.T) {
	_, base := startTestServer(t)
	fixture, offsets := golden.ThreeClusterStream()
	// offsets[0]=after header, [1]=after cluster1, [2]=after cluster2, [3]=after cluster3

	pr, pw := io.Pipe()
	publishDone := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, base+"/stream/x", pr)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		publishDone <- err
	}()

	// Write header + cluster 1, then pause before cluster 2 to let a
	// subscriber join mid-stream.
	if _, err := pw.Write(fixture[:offsets[1]]); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	subResp, err := http.Get(base + "/stream/x")
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	defer subResp.Body.Close()
	if subResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", subResp.StatusCode)
	}

	// Finish the publish.
	if _, err := pw.Write(fixture[offsets[1]:]); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	pw.Close()
	if err := <-publishDone; err != nil {
		t.Fatalf("publish request failed: %v", err)
	}

	headerLen := offsets[0]
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(subResp.Body, header); err != nil {
		t.Fatalf("expected to read header bytes: %v", err)
	}
	if !bytes.Equal(header, fixture[:headerLen]) {
		t.Fatalf("subscriber's primed header doesn't match fixture header")
	}

	remaining, err := io.ReadAll(subResp.Body)
	if err != nil {
		t.Fatalf("unexpected error reading remainder: %v", err)
	}
	if len(remaining) == 0 {
		t.Fatalf("expected cluster bytes after the primed header")
	}

	// Cluster prefix: Cluster id (4) + 8-byte size + Timecode id (1) +
	// 8-byte size + 4-byte Timecode payload.
	const clusterPrefixLen = 25
	want := append([]byte(nil), fixture[offsets[1]:offsets[1]+clusterPrefixLen]...)
	if err := ebml.RewriteClusterTimecode(want, 0); err != nil {
		t.Fatalf("unexpected rewrite error: %v", err)
	}
	if !bytes.HasPrefix(remaining, want) {
		t.Fatalf("expected cluster 2 rewritten to Timecode 0 after the header, got % x", remaining)
	}
}

// S4: a second publisher while the first is live is rejected with 403; the
// first publisher is unaffected.
func TestS4SecondPublisherRejectedWhileFirstIsLive(t *testing.T) {
	_, base := startTestServer(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	firstDone := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, base+"/stream/x", pr)
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		firstDone <- err
	}()
	time.Sleep(30 * time.Millisecond)

	second, err := http.Post(base+"/stream/x", "video/webm", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for second publisher, got %d", second.StatusCode)
	}
	body, _ := io.ReadAll(second.Body)
	if !bytes.Contains(body, []byte("stream id already taken")) {
		t.Fatalf("expected name-in-use body, got %q", body)
	}

	pw.Close()
	if err := <-firstDone; err != nil {
		t.Fatalf("first publisher request failed: %v", err)
	}
}

// S5: a publisher reconnecting within the reap window resumes the same
// broadcast, so a subscriber that attached during the reap window (after the
// first POST ended) stays on a live, unstopped session.
func TestS5ReconnectWithinReapWindowContinuesSameSubscriber(t *testing.T) {
	s, base := startTestServer(t)
	fixture, _ := golden.ThreeClusterStream()

	firstResp, err := http.Post(base+"/stream/x", "video/webm", bytes.NewReader(fixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstResp.Body.Close()
	if firstResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", firstResp.StatusCode)
	}

	subResp, err := http.Get(base + "/stream/x")
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	defer subResp.Body.Close()
	if subResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", subResp.StatusCode)
	}

	before, ok := s.Registry().Get("x")
	if !ok {
		t.Fatalf("expected stream x registered during the reap window")
	}

	more := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	secondResp, err := http.Post(base+"/stream/x", "video/webm", bytes.NewReader(more))
	if err != nil {
		t.Fatalf("unexpected error on reconnect publish: %v", err)
	}
	secondResp.Body.Close()
	if secondResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on reconnect publish, got %d", secondResp.StatusCode)
	}

	after, ok := s.Registry().Get("x")
	if !ok || after != before || after.Stopped() {
		t.Fatalf("expected reconnect to resume the subscriber's live broadcast")
	}
}

// S6: a publish whose first byte is not a valid EBML element is rejected with
// 400 BadContainer, and the name stays unclaimed for subsequent GETs.
func TestS6InvalidContainerRejectedAndNameStaysUnclaimed(t *testing.T) {
	_, base := startTestServer(t)

	resp, err := http.Post(base+"/stream/x", "video/webm", bytes.NewReader([]byte{0x00}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	getResp, err := http.Get(base + "/stream/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected stream to remain unclaimed after BadContainer, got %d", getResp.StatusCode)
	}
}
