// Command groupcertctl is a thin administration CLI over plugin.Controller,
// built the same flag.FlagSet-plus-SIGINT shape as the teacher's cmd/srv
// and cmd/cli: parse flags into a Config, start a Controller, print
// status on a timer, and shut down cleanly on Ctrl-C.
//
// No host database engine ships with this module -- engine.Host is an
// external collaborator per spec.md section 6 -- so groupcertctl embeds
// a minimal logging Host and, absent a real network GCS binding, joins
// through gcs/simnet. It exists to exercise the wiring end to end, not
// to replicate a real workload; a host application links plugin and
// engine directly instead of shelling out to this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/gcs"
	"github.com/glycerine/groupcert/gcs/simnet"
	"github.com/glycerine/groupcert/plugin"
)

// demoHost is the minimal engine.Host this CLI needs to stand up a
// Controller without a real storage engine attached: it logs every
// applied transaction and otherwise reports a freshly bootstrapped
// node's execution state.
type demoHost struct {
	mu      sync.Mutex
	applied int
}

func (h *demoHost) GetExecutedGTIDSet(ctx context.Context) (map[engine.GID]struct{}, error) {
	return map[engine.GID]struct{}{}, nil
}
func (h *demoHost) GetLastExecutedGno(ctx context.Context, clusterSID string) (int64, error) {
	return 0, nil
}
func (h *demoHost) GetLastDeliveredGno(ctx context.Context, clusterSID string) (int64, error) {
	return 0, nil
}
func (h *demoHost) SetTransactionCtx(ctx context.Context, threadID int64, outcome engine.Outcome) error {
	return nil
}
func (h *demoHost) IsOwnEventChannel(threadID int64) bool { return false }
func (h *demoHost) ApplyTransaction(ctx context.Context, gid engine.GID, body []byte) error {
	h.mu.Lock()
	h.applied++
	n := h.applied
	h.mu.Unlock()
	log.Printf("groupcertctl: applied gid=%+v (count=%d)", gid, n)
	return nil
}
func (h *demoHost) InitializeRepositories(ctx context.Context, name string, index int) error {
	return nil
}
func (h *demoHost) InitializeConnectionParameters(ctx context.Context, host string, port int, user, password string, ssl bool, heartbeatSeconds float64) error {
	return nil
}
func (h *demoHost) InitializeViewIDUntilCondition(ctx context.Context, viewID string) error {
	return nil
}
func (h *demoHost) StartReplicationThreads(ctx context.Context, mask int, wait bool) error {
	return nil
}
func (h *demoHost) StopThreads(ctx context.Context, force bool, mask int) error { return nil }
func (h *demoHost) PurgeRelayLogs(ctx context.Context) error                    { return nil }
func (h *demoHost) PurgeMasterInfo(ctx context.Context) error                   { return nil }
func (h *demoHost) CleanThreadRepositories(ctx context.Context) error           { return nil }
func (h *demoHost) IsIOThreadRunning(ctx context.Context) (bool, error)         { return false, nil }
func (h *demoHost) IsSQLThreadRunning(ctx context.Context) (bool, error)        { return false, nil }

func noticeControlC(stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		stop()
	}()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var cfg plugin.Config
	fs := flag.NewFlagSet("groupcertctl", flag.ExitOnError)
	cfg.SetFlags(fs)
	statusInterval := fs.Duration("status-interval", 5*time.Second, "how often to print Controller.Status()")
	fs.Parse(os.Args[1:])

	if err := cfg.FinishConfig(fs); err != nil {
		log.Fatalf("groupcertctl: %v", err)
	}
	cfg.SetDefaults()

	if cfg.GCSProtocol != "simnet" {
		log.Fatalf("groupcertctl: no binding registered for -gcs=%s; link a real gcs.Service implementation into your host application instead", cfg.GCSProtocol)
	}

	hub := simnet.NewHub()
	svc := simnet.NewService(hub, cfg.LocalUUID, cfg.Host, cfg.Port, gcs.RolePrimary)
	host := &demoHost{}

	ctl, err := plugin.New(cfg, svc, host)
	if err != nil {
		log.Fatalf("groupcertctl: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	noticeControlC(cancel)

	if cfg.StartOnBoot {
		if err := ctl.Start(ctx); err != nil {
			log.Fatalf("groupcertctl: start: %v", err)
		}
		fmt.Printf("groupcertctl: joined group %s as %s\n", cfg.GroupName, cfg.LocalUUID)
	}

	ticker := time.NewTicker(*statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ComponentsStopTimeout)
			if err := ctl.Stop(stopCtx); err != nil {
				log.Printf("groupcertctl: stop: %v", err)
			}
			stopCancel()
			return
		case <-ticker.C:
			st := ctl.Status()
			fmt.Printf("groupcertctl: view=%s members=%d queue=%d next_gno=%d\n",
				st.ViewID, len(st.Members), st.QueueSize, st.NextSeqno)
		}
	}
}
