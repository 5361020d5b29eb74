package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"custodia.org/internal/anon"
	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/blob"
	"custodia.org/internal/chain"
	"custodia.org/internal/custody"
	"custodia.org/internal/httpapi"
	"custodia.org/internal/mfa"
	"custodia.org/internal/obs"
	"custodia.org/internal/pki"
)

var version = "0.3.0"

const collaboratorTimeout = 10 * time.Second

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CUSTODIA_COMMIT"))

	masterKey := os.Getenv("CUSTODIA_MASTER_KEY")
	if masterKey == "" {
		log.Fatal("CUSTODIA_MASTER_KEY is required")
	}
	sealer, err := pki.NewSealer(masterKey)
	if err != nil {
		log.Fatalf("sealer: %v", err)
	}
	if os.Getenv("CUSTODIA_AUTH_SECRET") == "" {
		log.Fatal("CUSTODIA_AUTH_SECRET is required")
	}

	// Postgres when a DSN is configured, in-memory stores otherwise.
	var (
		db           *sql.DB
		dir          auth.Directory
		certs        pki.Store
		custodyStore custody.Store
		anonStore    anon.Store
		secrets      mfa.SecretStore
		audits       audit.Store
	)
	if dsn := os.Getenv("CUSTODIA_PG_DSN"); dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		dir = auth.NewPGDirectory(db)
		certs = pki.NewPGStore(db)
		custodyStore = custody.NewPGStore(db)
		anonStore = anon.NewPGStore(db)
		secrets = mfa.NewPGSecretStore(db)
		audits = audit.NewPGStore(db)
	} else {
		log.Print("CUSTODIA_PG_DSN not set, using in-memory stores")
		dir = auth.NewMemoryDirectory()
		certs = pki.NewMemoryStore()
		custodyStore = custody.NewMemoryStore()
		anonStore = anon.NewMemoryStore()
		secrets = mfa.NewMemorySecretStore()
		audits = audit.NewMemoryStore()
	}

	// External collaborators: remote HTTP endpoints when configured, local
	// bolt-backed mocks otherwise. The choice is made once at startup.
	dataDir := os.Getenv("CUSTODIA_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	blobs, closeBlobs, err := openBlobStore(dataDir)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	hot, closeHot, err := openLedger("CUSTODIA_HOT_LEDGER_URL", dataDir, "hot.db")
	if err != nil {
		log.Fatalf("hot ledger: %v", err)
	}
	cold, closeCold, err := openLedger("CUSTODIA_COLD_LEDGER_URL", dataDir, "cold.db")
	if err != nil {
		log.Fatalf("cold ledger: %v", err)
	}

	mgr, err := pki.NewManager(certs, dir, sealer, audits)
	if err != nil {
		log.Fatalf("pki manager: %v", err)
	}
	gate := mfa.NewGate(secrets)
	svc, err := custody.NewService(custodyStore, blobs, hot, audits,
		custody.WithCollaboratorTimeout(collaboratorTimeout))
	if err != nil {
		log.Fatalf("custody service: %v", err)
	}
	archiver, err := custody.NewArchiveService(custodyStore, cold, audits,
		custody.WithArchiveTimeout(collaboratorTimeout))
	if err != nil {
		log.Fatalf("archive service: %v", err)
	}
	resolver, err := anon.NewResolver(anonStore, dir)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
		Directory:  dir,
		PKI:        mgr,
		Authn:      pki.NewAuthenticator(certs, dir),
		Gate:       gate,
		Custody:    svc,
		Archiver:   archiver,
		Resolver:   resolver,
	})

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.MaxBodyBytes(
				httpapi.RateLimit(api.Handler(), 50, 25),
				64<<20)))

	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting custodia-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	closeBlobs()
	closeHot()
	closeCold()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func openBlobStore(dataDir string) (blob.Store, func(), error) {
	if url := os.Getenv("CUSTODIA_BLOB_URL"); url != "" {
		return blob.NewRemote(url, collaboratorTimeout), func() {}, nil
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, err
	}
	s, err := blob.OpenBolt(filepath.Join(dataDir, "blobs.db"))
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func openLedger(envVar, dataDir, file string) (chain.Ledger, func(), error) {
	if url := os.Getenv(envVar); url != "" {
		return chain.NewRemote(url, collaboratorTimeout), func() {}, nil
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, err
	}
	l, err := chain.OpenBolt(filepath.Join(dataDir, file))
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}
