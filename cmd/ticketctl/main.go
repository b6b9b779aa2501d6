// ticketctl renders one ticket through the Document Service and prints,
// views or downloads it on this machine.
//
//	ticketctl --mode print --order ORD-001 --item 1,Taco,2,12.50
//
// The outcome is written to stdout as JSON. In view mode ticketctl stays
// until the viewer is closed, view_ttl elapses or it is interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/docservice"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
	"ticket-delivery/internal/infra/surface"
)

// Exit codes.
const (
	exitOK      = 0
	exitOther   = 1
	exitSetup   = 2
	exitServer  = 3
	exitNetwork = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	baseURL     string
	token       string
	timeout     time.Duration
	mode        string
	order       string
	customer    string
	itemsFile   string
	items       []string
	surfaceKind string
	downloadDir string
	grace       time.Duration
	viewTTL     time.Duration
	logLevel    string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	flagSet := pflag.NewFlagSet("ticketctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.configPath, "config", "", "YAML config file (same format as ticketd)")
	flagSet.StringVar(&opts.baseURL, "url", os.Getenv("TICKET_SERVICE_URL"), "Document Service base URL")
	flagSet.StringVar(&opts.token, "token", os.Getenv("TICKET_SERVICE_TOKEN"), "bearer token for the Document Service")
	flagSet.DurationVar(&opts.timeout, "timeout", 0, "request timeout (0 keeps the transport default)")
	flagSet.StringVar(&opts.mode, "mode", string(domain.ModeDownload), "print, view or download")
	flagSet.StringVar(&opts.order, "order", "", "order number, used for the file name")
	flagSet.StringVar(&opts.customer, "customer", "", "customer name printed on the ticket")
	flagSet.StringVar(&opts.itemsFile, "items", "", "JSON file with an array of {id,name,quantity,cost}")
	flagSet.StringArrayVar(&opts.items, "item", nil, "item as id,name,quantity,cost (repeatable)")
	flagSet.StringVar(&opts.surfaceKind, "surface", "", "presentation surface: chrome, system or none")
	flagSet.StringVar(&opts.downloadDir, "download-dir", "", "where downloaded tickets are saved")
	flagSet.DurationVar(&opts.grace, "grace", 0, "delay between load and print")
	flagSet.DurationVar(&opts.viewTTL, "view-ttl", 0, "longest time a viewed ticket is kept on disk")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitSetup
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument: %s\n", rest[0])
		return exitSetup
	}
	logging.SetLogLevel(opts.logLevel)

	cfg, err := resolveConfig(opts, flagSet)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitSetup
	}

	items, err := loadItems(opts.itemsFile, opts.items)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitSetup
	}

	surf, err := surface.New(cfg.Delivery)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitSetup
	}
	client := delivery.New(docservice.New(cfg.Service), surf, delivery.OptionsFromConfig(cfg.Delivery))

	out, err := client.Deliver(ctx, delivery.Request{
		Items:        items,
		Mode:         domain.Mode(opts.mode),
		OrderNumber:  domain.StringPtr(opts.order),
		CustomerName: domain.StringPtr(opts.customer),
		AuthToken:    cfg.Service.Token,
		// The process exits after this call; view must finish here so the
		// local copy is removed.
		Wait: true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitOther
	}
	return exitOK
}

// resolveConfig starts from --config when given, then lets explicit flags win.
func resolveConfig(opts options, flagSet *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Read(opts.configPath); err != nil {
			return cfg, err
		}
	}

	if opts.configPath == "" || flagSet.Changed("url") {
		cfg.Service.BaseURL = opts.baseURL
	}
	if opts.configPath == "" || flagSet.Changed("token") {
		cfg.Service.Token = opts.token
	}
	if flagSet.Changed("timeout") {
		cfg.Service.Timeout = opts.timeout
	}
	if flagSet.Changed("surface") {
		cfg.Delivery.Surface.Kind = opts.surfaceKind
	}
	if flagSet.Changed("download-dir") {
		cfg.Delivery.DownloadDir = opts.downloadDir
	}
	if flagSet.Changed("grace") {
		cfg.Delivery.PrintGrace = opts.grace
	}
	if flagSet.Changed("view-ttl") {
		cfg.Delivery.ViewTTL = opts.viewTTL
	}

	config.ApplyDefaults(&cfg)
	return cfg, config.Validate(cfg)
}

func loadItems(file string, rawItems []string) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read items: %w", err)
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("parse items %s: %w", file, err)
		}
	}
	for _, raw := range rawItems {
		item, err := parseItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// parseItem reads "id,name,quantity,cost". The name may itself contain commas.
func parseItem(raw string) (domain.OrderItem, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 4 {
		return domain.OrderItem{}, fmt.Errorf("item %q: want id,name,quantity,cost", raw)
	}
	n := len(parts)
	qty, err := strconv.Atoi(strings.TrimSpace(parts[n-2]))
	if err != nil {
		return domain.OrderItem{}, fmt.Errorf("item %q: quantity: %w", raw, err)
	}
	cost, err := decimal.NewFromString(strings.TrimSpace(parts[n-1]))
	if err != nil {
		return domain.OrderItem{}, fmt.Errorf("item %q: cost: %w", raw, err)
	}
	return domain.OrderItem{
		ID:       strings.TrimSpace(parts[0]),
		Name:     strings.TrimSpace(strings.Join(parts[1:n-2], ",")),
		Quantity: qty,
		UnitCost: cost,
	}, nil
}

func exitCode(err error) int {
	var (
		setupErr  *domain.RequestSetupError
		serverErr *domain.ServerError
		netErr    *domain.NetworkError
	)
	switch {
	case errors.As(err, &setupErr):
		return exitSetup
	case errors.As(err, &serverErr):
		return exitServer
	case errors.As(err, &netErr):
		return exitNetwork
	}
	return exitOther
}
