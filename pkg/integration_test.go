package pkg

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManouchehrRasoulli/fsevents/internal"
	"github.com/ManouchehrRasoulli/fsevents/pkg/client"
	"github.com/ManouchehrRasoulli/fsevents/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsevents/pkg/user"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func checkOpenSSL() error {
	cmd := exec.Command("openssl", "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("OpenSSL not available %w", err)
	}

	return nil
}

func genTlsFiles(dir string) (key string, crt string, err error) {
	key = filepath.Join(dir, "server.key")
	crt = filepath.Join(dir, "server.crt")

	genKeyCmd := exec.Command("openssl", "genrsa", "-out", key, "2048")
	if out, err := genKeyCmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("failed to generate private key: %w, output: %s", err, out)
	}

	genCrtCmd := exec.Command("openssl", "req", "-new", "-x509", "-key", key,
		"-out", crt, "-days", "1", "-subj", "/CN=localhost")
	if output, err := genCrtCmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("failed to generate certificate: %w, output: %s", err, output)
	}

	return key, crt, nil
}

func genPwFile(t *testing.T) (username string, password string, pwFile string) {
	t.Helper()
	um := &user.UserManager{PwFile: filepath.Join(t.TempDir(), "pw.txt"), Cost: bcrypt.MinCost}
	require.NoError(t, um.Init())

	username, password = "user", "user"
	require.NoError(t, um.CreateUser(user.Credential{Username: username, Password: password}))
	return username, password, um.PwFile
}

type collector struct {
	mu      sync.Mutex
	batches []protocol.BatchPayload
}

func (c *collector) consume(b protocol.BatchPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) has(path string, ct internal.ChangeType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.batches {
		for i := range b.Paths {
			if b.Paths[i] == path && b.Types[i] == ct {
				return true
			}
		}
	}
	return false
}

func (c *collector) seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, b.Seq)
	}
	return out
}

func watchDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func serverConfig(t *testing.T, root string) *Config {
	return &Config{
		ServiceType: ServerType,
		Address:     "127.0.0.1:0",
		Paths:       []string{root},
		Watch:       WatchConfig{Latency: 20 * time.Millisecond, SuppressEmpty: true},
		Journal:     JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db")},
	}
}

func runService(t *testing.T, cfg *Config, lg *log.Logger) *Service {
	t.Helper()
	s, err := NewService(cfg, lg)
	require.NoError(t, err)
	require.NoError(t, s.Start(), "start service !")

	done := make(chan error, 1)
	go func() {
		done <- s.Run()
	}()

	t.Cleanup(func() {
		s.Stop()
		require.NoError(t, <-done, "server exit !!")
	})
	return s
}

func runClient(t *testing.T, c *client.Client) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- c.Run()
	}()

	select {
	case <-c.Ready():
	case err := <-done:
		t.Fatalf("client error ! %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not subscribe in time")
	}

	t.Cleanup(func() {
		require.NoError(t, c.Exit(), "client exit !!")
		require.NoError(t, <-done, "client run !!")
	})
}

func requireDelivered(t *testing.T, col *collector, path string, ct internal.ChangeType) {
	t.Helper()
	require.Eventually(t, func() bool {
		return col.has(path, ct)
	}, 5*time.Second, 20*time.Millisecond, "%s %s not delivered", ct, path)
}

func TestIntegration(t *testing.T) {
	t.Log("Start integration test ...")
	lg := log.New(os.Stdout, "integration --> ", 1|4)

	root := watchDir(t)
	s := runService(t, serverConfig(t, root), lg)

	col := &collector{}
	c := client.NewClient(s.Server().Addr().String(), "", "", nil, lg, col.consume)
	runClient(t, c)

	file := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0644))
	requireDelivered(t, col, file, internal.Created)

	require.NoError(t, os.Remove(file))
	requireDelivered(t, col, file, internal.Removed)

	res, err := c.Replay(0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, res.Batches)
	require.Equal(t, res.Batches[len(res.Batches)-1].Seq, res.Last)
	require.Equal(t, root, res.Batches[0].Root)

	t.Log("Integration test done.")
}

func TestIntegrationReplayOnReconnect(t *testing.T) {
	lg := log.New(os.Stdout, "integration replay --> ", 1|4)

	root := watchDir(t)
	s := runService(t, serverConfig(t, root), lg)
	addr := s.Server().Addr().String()

	first := &collector{}
	c := client.NewClient(addr, "", "", nil, lg, first.consume)
	runClient(t, c)

	file := filepath.Join(root, "missed.txt")
	require.NoError(t, os.WriteFile(file, []byte("m"), 0644))
	requireDelivered(t, first, file, internal.Created)

	// a second subscriber starting from scratch sees the journaled batch
	// ahead of anything live, without duplicates
	second := &collector{}
	c2 := client.NewClient(addr, "", "", nil, lg, second.consume, client.WithSince(0), client.WithRoots(root))
	runClient(t, c2)
	requireDelivered(t, second, file, internal.Created)

	other := filepath.Join(root, "live.txt")
	require.NoError(t, os.WriteFile(other, []byte("l"), 0644))
	requireDelivered(t, second, other, internal.Created)

	seqs := second.seqs()
	for i := 1; i < len(seqs); i++ {
		require.Greater(t, seqs[i], seqs[i-1], "sequences are strictly increasing")
	}
	require.Eventually(t, func() bool {
		return c2.Last() >= seqs[len(seqs)-1]
	}, time.Second, 10*time.Millisecond)
}

func TestIntegrationWithTLS(t *testing.T) {
	if err := checkOpenSSL(); err != nil {
		t.Skip("Skipping TLS test: ", err)
	}

	t.Log("Start integration test with TLS ...")
	lg := log.New(os.Stdout, "integration tls --> ", 1|4)

	key, crt, err := genTlsFiles(t.TempDir())
	require.NoError(t, err, "failed to generate TLS files")

	root := watchDir(t)
	cfg := serverConfig(t, root)
	cfg.Server.TLS = ServerTLSConfig{Key: key, Cert: crt}
	s := runService(t, cfg, lg)

	col := &collector{}
	cTlsCfg := &tls.Config{InsecureSkipVerify: true}
	c := client.NewClient(s.Server().Addr().String(), "", "", cTlsCfg, lg, col.consume)
	runClient(t, c)

	file := filepath.Join(root, "tls.txt")
	require.NoError(t, os.WriteFile(file, []byte("t"), 0644))
	requireDelivered(t, col, file, internal.Created)

	t.Log("Integration test with TLS done.")
}

func TestIntegrationWithPW(t *testing.T) {
	t.Log("Start integration test with password file ...")
	lg := log.New(os.Stdout, "integration pw --> ", 1|4)

	username, password, pwFile := genPwFile(t)

	root := watchDir(t)
	cfg := serverConfig(t, root)
	cfg.Server.PwFile = pwFile
	s := runService(t, cfg, lg)
	addr := s.Server().Addr().String()

	bad := client.NewClient(addr, username, "wrong", nil, lg, func(protocol.BatchPayload) {})
	require.ErrorIs(t, bad.Run(), client.ErrClientAuthenticationFailed)

	col := &collector{}
	c := client.NewClient(addr, username, password, nil, lg, col.consume)
	runClient(t, c)
	require.NotEmpty(t, c.Session())

	dir := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(dir, 0755))
	requireDelivered(t, col, dir, internal.Created)

	t.Log("Integration test with password file done.")
}

func TestIntegrationWithTLSAndPW(t *testing.T) {
	if err := checkOpenSSL(); err != nil {
		t.Skip("Skipping TLS test: ", err)
	}

	t.Log("Start integration test with TLS and password file ...")
	lg := log.New(os.Stdout, "integration tls/pw --> ", 1|4)

	key, crt, err := genTlsFiles(t.TempDir())
	require.NoError(t, err, "failed to generate TLS files")
	username, password, pwFile := genPwFile(t)

	root := watchDir(t)
	cfg := serverConfig(t, root)
	cfg.Server.TLS = ServerTLSConfig{Key: key, Cert: crt}
	cfg.Server.PwFile = pwFile
	s := runService(t, cfg, lg)

	col := &collector{}
	cTlsCfg := &tls.Config{InsecureSkipVerify: true}
	c := client.NewClient(s.Server().Addr().String(), username, password, cTlsCfg, lg, col.consume)
	runClient(t, c)

	file := filepath.Join(root, "secure.txt")
	require.NoError(t, os.WriteFile(file, []byte("s"), 0644))
	requireDelivered(t, col, file, internal.Created)

	t.Log("Integration test with TLS and password file done.")
}

func TestServiceWatchWithMedia(t *testing.T) {
	lg := log.New(os.Stdout, "integration media --> ", 1|4)

	root := watchDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.jpg"), []byte("o"), 0644))

	col := &collector{}
	cfg := &Config{
		ServiceType: WatchType,
		Paths:       []string{root},
		Watch:       WatchConfig{Latency: 20 * time.Millisecond, SuppressEmpty: true},
		Media:       MediaConfig{Enabled: true},
	}

	s, err := NewService(cfg, lg, WithNotifier(internal.NotifyFunc(func(n int, types []internal.ChangeType, paths []string) {
		col.consume(protocol.BatchPayload{Types: types[:n], Paths: paths[:n]})
	})))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Run())
	require.Nil(t, s.Server())
	require.Len(t, s.Watches(), 1)
	require.Equal(t, 1, s.Media().Len())

	fresh := filepath.Join(root, "fresh.png")
	require.NoError(t, os.WriteFile(fresh, []byte("f"), 0644))
	requireDelivered(t, col, fresh, internal.Created)

	_, ok := s.Media().Find(fresh)
	require.True(t, ok, "media repository is updated before later consumers run")
	require.GreaterOrEqual(t, s.Metrics().Count(internal.Created), int64(1))
}

func TestNewService_ClientType(t *testing.T) {
	_, err := NewService(&Config{ServiceType: ClientType}, log.New(os.Stdout, "", 0))
	require.ErrorIs(t, err, ErrServiceType)
}
