package pkg

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/ManouchehrRasoulli/fsevents/internal"
	"github.com/ManouchehrRasoulli/fsevents/pkg/journal"
	"github.com/ManouchehrRasoulli/fsevents/pkg/logger"
	"github.com/ManouchehrRasoulli/fsevents/pkg/mediarepo"
	"github.com/ManouchehrRasoulli/fsevents/pkg/server"
	"github.com/ManouchehrRasoulli/fsevents/pkg/user"
)

const DefaultJournalPath = "fsevents.db"

var ErrServiceType = errors.New("configuration type can not run a watch service")

// Service
// the watch side of the tool: one watch per configured path feeding the
// optional media repository, the journal and, for the server type, the
// subscribers of the server.
type Service struct {
	cfg    *Config
	logger *log.Logger
	clg    *logger.ColorLogger

	metrics *internal.Metrics
	watches []*internal.Watch
	journal *journal.Journal
	media   *mediarepo.Repository
	server  *server.Server
	sinks   []internal.Notifier

	stopOnce sync.Once
}

type ServiceOption func(s *Service)

// WithNotifier adds n after the built in consumers of every watch.
func WithNotifier(n internal.Notifier) ServiceOption {
	return func(s *Service) {
		s.sinks = append(s.sinks, n)
	}
}

func NewService(cfg *Config, lg *log.Logger, options ...ServiceOption) (*Service, error) {
	if cfg.ServiceType != WatchType && cfg.ServiceType != ServerType {
		return nil, errors.Join(ErrServiceType, fmt.Errorf("type %q", cfg.ServiceType))
	}

	s := Service{
		cfg:     cfg,
		logger:  lg,
		clg:     logger.NewColorLogger(lg),
		metrics: internal.NewMetrics(),
	}
	for _, op := range options {
		op(&s)
	}
	return &s, nil
}

// Start opens the journal and the media repository, creates the watches and
// for the server type binds the listener. On failure everything opened so
// far is released.
func (s *Service) Start() (err error) {
	defer func() {
		if err != nil {
			s.Stop()
		}
	}()

	roots := make([]string, 0, len(s.cfg.Paths))
	for _, p := range s.cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return errors.Join(internal.ErrInvalidPath, err)
		}
		roots = append(roots, abs)
	}

	journalPath := s.cfg.Journal.Path
	if journalPath == "" && s.cfg.ServiceType == ServerType {
		journalPath = DefaultJournalPath
	}
	if journalPath != "" {
		if s.journal, err = journal.Open(journal.Config{Path: journalPath}, s.logger); err != nil {
			return err
		}
	}

	if s.cfg.Media.Enabled {
		s.media = mediarepo.NewRepository(s.logger, mediarepo.WithRawImages(s.cfg.Media.IncludeRaw))
		for _, root := range roots {
			if err = s.media.AddFolder(root); err != nil {
				return err
			}
		}
		s.clg.Printcf(logger.ColorBlue, "media repository : %d files in %d folders", s.media.Len(), len(roots))
	}

	if s.cfg.ServiceType == ServerType {
		if err = s.startServer(roots); err != nil {
			return err
		}
	}

	for _, root := range roots {
		w, err := internal.CreateWatch(root, s.notifier(root), s.watchOptions()...)
		if err != nil {
			return err
		}
		s.watches = append(s.watches, w)
	}

	return nil
}

func (s *Service) startServer(roots []string) error {
	var um *user.UserManager
	if s.cfg.Server.PwFile != "" {
		um = &user.UserManager{PwFile: s.cfg.Server.PwFile}
		if err := um.Init(); err != nil {
			return err
		}
	}

	var tls *server.ServerTLS
	if s.cfg.Server.TLS.Cert != "" || s.cfg.Server.TLS.Key != "" {
		tls = &server.ServerTLS{Cert: s.cfg.Server.TLS.Cert, Key: s.cfg.Server.TLS.Key}
	}

	s.server = server.NewServer(s.cfg.Address, roots, tls, um, s.journal, s.logger)
	return s.server.Listen()
}

// notifier builds the consumer chain of one watch. The journal goes first so
// server subscribers see a batch only once it is stored.
func (s *Service) notifier(root string) internal.Notifier {
	tee := internal.Tee{}

	if s.journal != nil {
		var sinks []func(journal.Record)
		if s.server != nil {
			sinks = append(sinks, s.server.Publish)
		}
		tee = append(tee, s.journal.Recorder(root, sinks...))
	}
	if s.media != nil {
		tee = append(tee, s.media)
	}
	if s.cfg.ServiceType == WatchType {
		tee = append(tee, Printer(s.clg))
	}

	return append(tee, s.sinks...)
}

func (s *Service) watchOptions() []internal.Option {
	w := s.cfg.Watch
	opts := []internal.Option{
		internal.WithLogger(s.logger),
		internal.WithMetrics(s.metrics),
		internal.WithCoalesce(w.Coalesce),
		internal.WithSuppressEmpty(w.SuppressEmpty),
	}
	if w.Latency > 0 {
		opts = append(opts, internal.WithLatency(w.Latency))
	}
	if w.MaxBatch > 0 {
		opts = append(opts, internal.WithMaxBatch(w.MaxBatch))
	}
	if len(w.Ignore) > 0 {
		opts = append(opts, internal.WithIgnorePatterns(w.Ignore))
	}
	return opts
}

// Run blocks serving subscribers for the server type and returns nil for
// the watch type, whose watches run on their own.
func (s *Service) Run() error {
	if s.server == nil {
		return nil
	}
	return s.server.Run()
}

// Stop stops the watches before the server and the journal they feed.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		for _, w := range s.watches {
			w.Stop()
		}
		if s.server != nil {
			if err := s.server.Exit(); err != nil {
				s.clg.Printcf(logger.ColorRed, "server error : got error %v on exit", err)
			}
		}
		if s.journal != nil {
			if err := s.journal.Close(); err != nil {
				s.clg.Printcf(logger.ColorRed, "journal error : got error %v on close", err)
			}
		}
		s.clg.Printcf(logger.ColorBlue, "stats : %v", s.metrics.GetStats())
	})
}

func (s *Service) Metrics() *internal.Metrics { return s.metrics }

func (s *Service) Watches() []*internal.Watch { return s.watches }

// Media returns the media repository, nil when disabled.
func (s *Service) Media() *mediarepo.Repository { return s.media }

// Server returns the server, nil unless the service is a server.
func (s *Service) Server() *server.Server { return s.server }

// Printer logs every classified event of a batch, colored by change type.
func Printer(clg *logger.ColorLogger) internal.Notifier {
	return internal.NotifyFunc(func(numEvents int, types []internal.ChangeType, paths []string) {
		if numEvents == 0 {
			clg.Printc(logger.ColorBlack, "batch : empty")
			return
		}
		for i := 0; i < numEvents; i++ {
			clg.Printcf(colorOf(types[i]), "%-13s %s", types[i], paths[i])
		}
	})
}

func colorOf(t internal.ChangeType) logger.Color {
	switch t {
	case internal.Created:
		return logger.ColorGreen
	case internal.Removed:
		return logger.ColorRed
	case internal.RescanFolder:
		return logger.ColorMagenta
	default:
		return logger.ColorYellow
	}
}
