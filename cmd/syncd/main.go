// Command syncd bootstraps a single syncengine peer: it loads or
// generates an identity, opens its local stores, stands up the libp2p
// host and every gossip ALPN (realm, contact, profile, blob), joins
// whatever realms it was handed invites for, and runs until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/libp2p/go-libp2p/core/host"

	"github.com/pivaldi/syncengine/internal/blobstore"
	"github.com/pivaldi/syncengine/internal/contactexchange"
	"github.com/pivaldi/syncengine/internal/envelope"
	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/identity"
	"github.com/pivaldi/syncengine/internal/invite"
	"github.com/pivaldi/syncengine/internal/kvstore"
	"github.com/pivaldi/syncengine/internal/logging"
	"github.com/pivaldi/syncengine/internal/p2p"
	"github.com/pivaldi/syncengine/internal/peerregistry"
	"github.com/pivaldi/syncengine/internal/profile"
	"github.com/pivaldi/syncengine/internal/profilepin"
	"github.com/pivaldi/syncengine/internal/syncproto"
)

// realmsFlag collects repeated --realms flags into a slice of
// sync-invite ticket strings, the way flag.Value is used wherever a
// single flag may be given more than once.
type realmsFlag []string

func (r *realmsFlag) String() string { return strings.Join(*r, ",") }
func (r *realmsFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		if err := runKeygen(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
		return
	}

	dataDir := flag.String("data-dir", "", "directory for this node's identity, stores, and blobs (required)")
	seedPath := flag.String("seed", "", "path to seed file (defaults to <data-dir>/seed, generated on first run)")
	listenPort := flag.Int("listen-port", 0, "TCP port to listen on (0 picks a random free port)")
	var realms realmsFlag
	flag.Var(&realms, "realms", "sync-invite ticket to join at startup (may be repeated)")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "--data-dir is required")
		os.Exit(1)
	}
	if err := run(*dataDir, *seedPath, *listenPort, realms); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, seedPath string, listenPort int, realms []string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if seedPath == "" {
		seedPath = filepath.Join(dataDir, "seed")
	}

	seed, err := loadOrGenerateSeed(seedPath)
	if err != nil {
		return err
	}
	kp, err := identity.DeriveKeypair(seed)
	if err != nil {
		return fmt.Errorf("derive keypair: %w", err)
	}
	selfDid := identity.Did(kp.Public())

	kv, err := kvstore.Open(filepath.Join(dataDir, "syncengine.db"))
	if err != nil {
		return fmt.Errorf("open kvstore: %w", err)
	}
	defer kv.Close()

	h, err := p2p.NewHost(kp.Libp2pPriv, listenPort)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	defer h.Close()

	registry := peerregistry.New(kv)

	blobs, err := blobstore.NewPersistent(filepath.Join(dataDir, "blobs"), kv)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	blobstore.RegisterServer(h, blobs)

	pins, err := profilepin.NewPinStore(kv)
	if err != nil {
		return fmt.Errorf("open pin store: %w", err)
	}

	realmTransport := gossip.NewTransport(h)
	profileTransport := gossip.NewTransportWithALPN(h, gossip.ALPNProfileExchange)

	resolver := newPinResolver(selfDid, kp.Public(), pins)
	engine := syncproto.NewEngine(realmTransport, selfDid, kp, resolver)
	defer engine.Close()

	selfAddr, err := hostAddr(h)
	if err != nil {
		return err
	}
	pinSvc := profilepin.NewService(selfDid, kp, selfAddr, kv, pins, profileTransport, blobs)

	selfProfile := func() peerregistry.ProfileSnapshot {
		pin, ok := pins.Get(selfDid)
		if !ok {
			return peerregistry.ProfileSnapshot{}
		}
		return snapshotFromProfile(pin.SignedProfile.Profile)
	}
	contacts := contactexchange.NewManager(h, kv, registry, selfDid, kp, selfProfile)
	go watchContactEvents(contacts, pinSvc)

	if err := pinSvc.UpdateOwnProfile(context.Background(), profile.UserProfile{DisplayName: selfDid}); err != nil {
		return fmt.Errorf("publish own profile: %w", err)
	}

	for _, encoded := range realms {
		if err := joinRealm(context.Background(), engine, realmTransport, encoded); err != nil {
			return fmt.Errorf("join realm: %w", err)
		}
	}

	reconnectCtx, stopReconnect := context.WithCancel(context.Background())
	defer stopReconnect()
	go runReconnectLoop(reconnectCtx, registry, realmTransport, logging.New("reconnect"))

	fmt.Printf("syncd started\n")
	fmt.Printf("DID: %s\n", selfDid)
	fmt.Printf("PeerID: %s\n", h.ID())
	for _, addr := range h.Addrs() {
		fmt.Printf("Address: %s/p2p/%s\n", addr, h.ID())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")
	return nil
}

func loadOrGenerateSeed(path string) ([]byte, error) {
	if _, err := os.Stat(path); err == nil {
		return identity.LoadSeed(path)
	}
	seed, err := identity.GenerateSeed()
	if err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	if err := identity.SaveSeed(path, seed); err != nil {
		return nil, fmt.Errorf("save seed: %w", err)
	}
	fmt.Printf("generated new identity at %s\n", path)
	return seed, nil
}

func hostAddr(h host.Host) (string, error) {
	addrs := h.Addrs()
	if len(addrs) == 0 {
		return "", fmt.Errorf("host has no listen addresses")
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0], h.ID()), nil
}

func snapshotFromProfile(p profile.UserProfile) peerregistry.ProfileSnapshot {
	return peerregistry.ProfileSnapshot{
		DisplayName:  p.DisplayName,
		Subtitle:     p.Subtitle,
		AvatarBlobID: p.AvatarBlobID,
		Bio:          p.Bio,
	}
}

func joinRealm(ctx context.Context, engine *syncproto.Engine, transport *gossip.Transport, encoded string) error {
	ticket, err := invite.Decode(encoded)
	if err != nil {
		return fmt.Errorf("decode invite: %w", err)
	}
	engine.JoinRealm(ticket.Topic, envelope.RealmKey(ticket.RealmKey), syncproto.NewOpaqueLog())
	for _, addr := range ticket.BootstrapPeers {
		if _, err := transport.Connect(ctx, addr); err != nil {
			fmt.Fprintf(os.Stderr, "connect to bootstrap peer %s: %v\n", addr, err)
		}
	}
	return nil
}

// watchContactEvents keeps profilepin's pin interests in sync with
// contactexchange's mutual-contact lifecycle: a newly accepted contact
// starts being pinned (and its profile topic watched) automatically,
// the way DESIGN.md describes; a declined request stops any interest
// that may have been speculatively added.
func watchContactEvents(m *contactexchange.Manager, pinSvc *profilepin.Service) {
	for ev := range m.Events() {
		switch ev.Kind {
		case contactexchange.ContactAccepted:
			pinSvc.AddContact(ev.Did, profilepin.Relationship{Kind: profilepin.RelationContact})
		case contactexchange.ContactDeclined:
			if err := pinSvc.RemoveContact(ev.Did); err != nil {
				fmt.Fprintf(os.Stderr, "remove contact pin for %s: %v\n", ev.Did, err)
			}
		default:
			fmt.Printf("contact event: kind=%d did=%s\n", ev.Kind, ev.Did)
		}
	}
}
