package blobstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/pivaldi/syncengine/internal/p2p"
)

func TestDownloadBlobFetchesAndVerifies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	servePriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	serverHost, err := p2p.NewHost(servePriv, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer serverHost.Close()

	serverStore := NewMemory(mustKV(t))
	data := []byte("avatar bytes")
	digest, err := serverStore.ImportBytes(data)
	if err != nil {
		t.Fatalf("ImportBytes: %v", err)
	}
	RegisterServer(serverHost, serverStore)

	addrs := serverHost.Addrs()
	if len(addrs) == 0 {
		t.Fatal("expected at least one listen address")
	}
	serverAddr := fmt.Sprintf("%s/p2p/%s", addrs[0], serverHost.ID())

	clientPriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	clientHost, err := p2p.NewHost(clientPriv, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer clientHost.Close()

	clientStore := NewMemory(mustKV(t))
	ticket := Ticket{Digest: digest, Size: len(data), PeerAddr: serverAddr}

	got, err := clientStore.DownloadBlob(ctx, clientHost, ticket)
	if err != nil {
		t.Fatalf("DownloadBlob: %v", err)
	}
	if got != digest {
		t.Fatalf("got digest %s, want %s", got, digest)
	}

	fetched, ok, err := clientStore.GetBytes(digest)
	if err != nil || !ok {
		t.Fatalf("GetBytes after download: ok=%v err=%v", ok, err)
	}
	if string(fetched) != string(data) {
		t.Fatalf("got %q, want %q", fetched, data)
	}
}

func TestDownloadBlobFailsForUnknownDigest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	servePriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	serverHost, err := p2p.NewHost(servePriv, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer serverHost.Close()

	serverStore := NewMemory(mustKV(t))
	RegisterServer(serverHost, serverStore)

	addrs := serverHost.Addrs()
	serverAddr := fmt.Sprintf("%s/p2p/%s", addrs[0], serverHost.ID())

	clientPriv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	clientHost, err := p2p.NewHost(clientPriv, 0)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer clientHost.Close()

	clientStore := NewMemory(mustKV(t))
	var missing Digest
	missing[0] = 0xAB
	ticket := Ticket{Digest: missing, Size: 0, PeerAddr: serverAddr}

	if _, err := clientStore.DownloadBlob(ctx, clientHost, ticket); err == nil {
		t.Fatal("expected an error fetching an unknown digest")
	}
}
