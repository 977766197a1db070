// Command monad runs the execution client against a live block feed,
// optionally bootstrapping its initial state over the state-sync wire
// protocol before replaying blocks from --block_db (spec.md §6's monad
// CLI surface). It shares its subsystem wiring with replay_ethereum
// (storage pool, event ring, execution pipeline) and adds
// internal/statesync as the one extra collaborator: a unix-socket
// client speaking the length-prefixed Request/upsert-frame protocol
// internal/statesync/protocol.go implements.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/monad-crypto/monad-exec/cmd/blockio"
	"github.com/monad-crypto/monad-exec/internal/config"
	"github.com/monad-crypto/monad-exec/internal/eventring"
	"github.com/monad-crypto/monad-exec/internal/evmiface"
	"github.com/monad-crypto/monad-exec/internal/execution"
	"github.com/monad-crypto/monad-exec/internal/logging"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/statesync"
	"github.com/monad-crypto/monad-exec/internal/storage"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

// execRevision pins both binaries to the Paris (post-merge) protocol
// revision: ommers/difficulty/nonce are then all zero by construction,
// matching this rewrite's block fixture format.
const execRevision = evmiface.Paris

func main() {
	app := &cli.App{
		Name:  "monad",
		Usage: "execute blocks against a chunk-pool-backed trie database, optionally bootstrapped via state sync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "block_db", Required: true, Usage: "directory of per-block JSON fixtures plus root-chain metadata"},
			&cli.StringSliceFlag{Name: "db", Required: true, Usage: "chunk pool backing file(s); only the first is used (striping across multiple is not implemented, see DESIGN.md)"},
			&cli.StringFlag{Name: "genesis_file", Required: true, Usage: "JSON genesis allocation"},
			&cli.StringFlag{Name: "statesync_path", Usage: "unix socket to bootstrap initial state from, per internal/statesync's wire protocol"},
			&cli.StringFlag{Name: "log_level", Value: "info", Usage: "debug|info|warn|error"},
			&cli.StringFlag{Name: "config", Usage: "TOML config file"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "monad:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := logging.SetLevel(c.String("log_level")); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	log := logging.Named("monad")
	defer logging.Sync()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	dbPaths := c.StringSlice("db")
	if len(dbPaths) == 0 {
		return fmt.Errorf("--db is required")
	}
	blockDB := c.String("block_db")
	if err := os.MkdirAll(blockDB, 0o755); err != nil {
		return fmt.Errorf("block_db: %w", err)
	}

	pool, err := storage.Open(dbPaths[0], cfg.Storage.NumChunks(), uint64(cfg.Storage.ChunkSize))
	if err != nil {
		return fmt.Errorf("opening storage pool: %w", err)
	}
	defer pool.Close()

	meta, err := storage.OpenMetadata(filepath.Join(blockDB, "meta.db"), cfg.Storage.MinHistoryLength, cfg.Storage.RetentionWindow)
	if err != nil {
		return fmt.Errorf("opening metadata db: %w", err)
	}
	defer meta.Close()

	ns := storage.NewNodeStore(pool.Slow)

	var oldestVersion, newestVersion uint64
	compactor := storage.NewCompactor(pool, meta, func() (uint64, uint64) { return oldestVersion, newestVersion })
	if cfg.Storage.DisableCompaction {
		compactor.Disable()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyCtx, stopNotify := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopNotify()
	go compactor.Run(notifyCtx, time.Second)

	ring, err := eventring.New(cfg.Ring.DescriptorCountLog2, cfg.Ring.PayloadBufLog2, eventring.ContentType(cfg.Ring.ContentType))
	if err != nil {
		return fmt.Errorf("opening event ring: %w", err)
	}
	recorder := execution.NewRecorder(ring)

	codes := blockio.NewMemCodeStore()
	cachedCodes := execution.NewCachedCodeStore(codes)
	genesis, err := blockio.LoadGenesis(c.String("genesis_file"))
	if err != nil {
		return err
	}

	ov := execution.NewOverlay(nil, ns, cachedCodes, 0)
	if _, err := genesis.Apply(ov, codes); err != nil {
		return fmt.Errorf("applying genesis: %w", err)
	}
	root, err := ov.Commit()
	if err != nil {
		return fmt.Errorf("committing genesis: %w", err)
	}
	version := uint64(0)

	if socketPath := c.String("statesync_path"); socketPath != "" {
		root, version, err = bootstrapStateSync(socketPath, root, version, ns, codes, log)
		if err != nil {
			return fmt.Errorf("state sync: %w", err)
		}
	}

	blocks, err := blockio.LoadBlocks(blockDB, 0)
	if err != nil {
		return fmt.Errorf("loading blocks: %w", err)
	}

	lastCompleted := version
	for _, b := range blocks {
		header, err := b.Header.ToHeader()
		if err != nil {
			return fmt.Errorf("block %d: decoding header: %w", b.Header.Number, err)
		}
		ommersHashFn := func(ommers []*execution.Header) state.Hash {
			if len(ommers) == 0 {
				return header.OmmersHash
			}
			return state.Hash{}
		}
		if err := execution.ValidateBlockStatic(&header, execRevision, ommersHashFn); err != nil {
			return fmt.Errorf("block %d: %w", b.Header.Number, err)
		}

		txns := make([]*execution.Transaction, len(b.Transactions))
		for i, tf := range b.Transactions {
			tx, err := tf.ToTransaction()
			if err != nil {
				return fmt.Errorf("block %d: transaction %d: %w", b.Header.Number, i, err)
			}
			txns[i] = tx
		}

		pipeline := execution.NewPipeline(execution.PipelineConfig{Workers: cfg.Pipeline.NumThreads}, placeholderInterpreter{}, execRevision, header.BaseFeePerGas, cachedCodes, ns, header.Beneficiary, recorder)

		version++
		results, newRoot, err := pipeline.Run(ctx, b.Header.Number, root, txns, version)
		if err != nil {
			return fmt.Errorf("block %d: %w", b.Header.Number, err)
		}
		if err := blockio.CheckOutcome(b.Header, txns, results, execRevision, newRoot.Ref); err != nil {
			return fmt.Errorf("block %d: %w", b.Header.Number, err)
		}
		for _, r := range results {
			if r.Rejected == nil {
				codes.AbsorbDelta(r.Delta)
			}
		}

		off, err := ns.WriteNode(newRoot, version)
		if err != nil {
			return fmt.Errorf("block %d: persisting root: %w", b.Header.Number, err)
		}
		if err := meta.PutRoot(b.Header.Number, off); err != nil {
			return fmt.Errorf("block %d: recording root: %w", b.Header.Number, err)
		}

		root = newRoot
		newestVersion = version
		lastCompleted = b.Header.Number
		log.Infow("block executed", "number", b.Header.Number, "txns", len(txns))
	}

	fmt.Printf("monad: last completed block: %d\n", lastCompleted)
	return nil
}

// dialStateSyncWithBackoff retries the unix-socket dial with
// exponentially increasing delay, since the state-sync peer process
// may still be starting up when monad launches (e.g. both brought up
// by the same orchestration step). It gives up once 10 seconds have
// elapsed in total (bo.MaxElapsedTime) and returns the last dial error.
func dialStateSyncWithBackoff(socketPath string, log *zap.SugaredLogger) (net.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var conn net.Conn
	op := func() error {
		c, err := net.Dial("unix", socketPath)
		if err != nil {
			log.Infow("state sync dial retrying", "socket", socketPath, "err", err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("dialing %s: %w", socketPath, err)
	}
	return conn, nil
}

// bootstrapStateSync dials socketPath, issues a single full-range
// Request, and applies every upsert/delete frame the peer streams back
// until it closes the connection, per internal/statesync/protocol.go's
// handle_upsert loop. It returns the resulting root and the version
// that root was committed at.
func bootstrapStateSync(socketPath string, root *trie.Node, version uint64, ns *storage.NodeStore, codes *blockio.MemCodeStore, log *zap.SugaredLogger) (*trie.Node, uint64, error) {
	conn, err := dialStateSyncWithBackoff(socketPath, log)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	req := statesync.NextRequest(0, 0, statesync.InvalidBlockNum, statesync.InvalidBlockNum, statesync.InvalidBlockNum)
	if _, err := conn.Write(statesync.EncodeRequest(req)); err != nil {
		return nil, 0, fmt.Errorf("sending request: %w", err)
	}

	nextVersion := version + 1
	ov := execution.NewOverlay(root, ns, codes, nextVersion)
	applier := statesync.NewApplier(ov, codes, nil)

	var lenBuf [4]byte
	frames := 0
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, fmt.Errorf("reading frame length: %w", err)
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length == 0 {
			break
		}
		frame := make([]byte, length)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return nil, 0, fmt.Errorf("reading frame body: %w", err)
		}
		if _, err := applier.ApplyFrame(frame); err != nil {
			return nil, 0, fmt.Errorf("applying frame %d: %w", frames, err)
		}
		frames++
	}

	newRoot, err := applier.Commit()
	if err != nil {
		return nil, 0, fmt.Errorf("committing synced state: %w", err)
	}
	log.Infow("state sync complete", "frames", frames)
	return newRoot, nextVersion, nil
}

// placeholderInterpreter stands in for the EVM collaborator spec.md §1
// places out of scope: a real deployment injects its own
// evmiface.Interpreter implementation here.
type placeholderInterpreter struct{}

func (placeholderInterpreter) Execute(rev evmiface.Revision, host evmiface.Host, msg evmiface.Message, code []byte) evmiface.Result {
	if msg.To != nil && !msg.IsCreate {
		bal := host.GetBalance(*msg.To)
		bal.Add(&bal, &msg.Value)
		host.SetBalance(*msg.To, bal)
	}
	return evmiface.Result{Exit: evmiface.Success, GasRemaining: msg.GasLimit - 21000}
}
