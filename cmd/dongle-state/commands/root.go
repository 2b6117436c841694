// Package commands cmd/dongle-state/commands/root.go
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/pkg/toggle-api/api"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	confPath     string
	statePath    string
	apiURL       string
	historyLimit int
)

const apiTimeout = 5 * time.Second

func init() {
	RootCmd.AddCommand(
		showCmd,
		resetTrafficCmd,
		historyCmd,
	)
	RootCmd.PersistentFlags().StringVarP(&confPath, "config", "c", "toggle-api.json", "path of toggle-api config")
	RootCmd.PersistentFlags().StringVarP(&statePath, "state", "s", "", "path of the state file, overrides the configured store")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of events to print")
	historyCmd.Flags().StringVar(&apiURL, "api", "", "url of the running toggle-api, derived from the configured addr by default")
}

// RootCmd contains the state maintenance commands
var RootCmd = &cobra.Command{
	Use:   "dongle-state",
	Short: "Inspect and maintain the persisted dongle state",
}

var showCmd = &cobra.Command{
	Use:   "show [subnet...]",
	Short: "Print the persisted state of all or the given subnets",
	RunE: func(_ *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		subnets, err := parseSubnets(conf.Subnets, args)
		if err != nil {
			return err
		}
		s, err := openStore(conf)
		if err != nil {
			return err
		}
		defer s.Close() //nolint

		all, err := s.All()
		if err != nil {
			return err
		}
		out := make(map[string]dongle.SubnetState, len(all))
		for subnet, st := range all {
			if len(subnets) > 0 && !contains(subnets, subnet) {
				continue
			}
			out[dongle.StateKey(subnet)] = st
		}
		return printJSON(out)
	},
}

var resetTrafficCmd = &cobra.Command{
	Use:   "reset-traffic [subnet...]",
	Short: "Zero the traffic counters of all or the given subnets",
	RunE: func(_ *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		subnets, err := parseSubnets(conf.Subnets, args)
		if err != nil {
			return err
		}
		s, err := openStore(conf)
		if err != nil {
			return err
		}
		defer s.Close() //nolint

		if err := s.ResetTraffic(subnets...); err != nil {
			return err
		}
		if len(subnets) == 0 {
			fmt.Println("Traffic reset for all subnets.")
			return nil
		}
		fmt.Printf("Traffic reset for subnets %v.\n", subnets)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <subnet>",
	Short: "Print the latest toggle and recovery events of a subnet",
	Long: `Print the latest toggle and recovery events of a subnet.

The running toggle-api holds the history journal open, so it is asked first.
The journal is only opened read-only when no toggle-api answers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		subnets, err := parseSubnets(conf.Subnets, args)
		if err != nil {
			return err
		}

		base := apiURL
		if base == "" {
			base = localAPI(conf.Addr)
		}
		events, err := remoteHistory(cmd.Context(), base, subnets[0], historyLimit)
		var unreachable *apiUnreachableError
		if errors.As(err, &unreachable) {
			events, err = localHistory(conf.HistoryPath, subnets[0], historyLimit)
		}
		if err != nil {
			return err
		}
		if events == nil {
			events = []dongle.Event{}
		}
		return printJSON(events)
	},
}

type apiUnreachableError struct {
	err error
}

func (e *apiUnreachableError) Error() string {
	return fmt.Sprintf("toggle-api unreachable: %v", e.err)
}

func (e *apiUnreachableError) Unwrap() error {
	return e.err
}

// localAPI turns a listen address into the url the local server answers on.
func localAPI(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func remoteHistory(ctx context.Context, base string, subnet, limit int) ([]dongle.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	target := fmt.Sprintf("%s/history/%d?limit=%d", strings.TrimSuffix(base, "/"), subnet, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &apiUnreachableError{err: err}
	}
	defer resp.Body.Close() //nolint

	if resp.StatusCode != http.StatusOK {
		var apiErr api.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("toggle-api: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("toggle-api: unexpected status %d", resp.StatusCode)
	}
	var body api.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return body.Events, nil
}

func localHistory(path string, subnet, limit int) ([]dongle.Event, error) {
	if path == "" {
		return nil, errors.New("toggle-api is not running and no history_path is configured")
	}
	h, err := store.OpenHistoryReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer h.Close() //nolint
	return h.Latest(subnet, limit)
}

func loadConfig() (*config.Config, error) {
	conf, err := config.ReadConfig(confPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return conf, err
}

func openStore(conf *config.Config) (store.Store, error) {
	if statePath != "" {
		conf.Store = config.StoreConfig{Type: config.FileStore, Path: statePath}
	}
	if conf.Store.Type == config.MemoryStore {
		return nil, errors.New("the memory store has nothing to maintain")
	}
	return store.New(context.Background(), conf.Store)
}

func parseSubnets(r dongle.Range, args []string) ([]int, error) {
	subnets := make([]int, 0, len(args))
	for _, arg := range args {
		n, err := r.Parse(arg)
		if err != nil {
			return nil, err
		}
		subnets = append(subnets, n)
	}
	sort.Ints(subnets)
	return subnets, nil
}

func contains(subnets []int, subnet int) bool {
	i := sort.SearchInts(subnets, subnet)
	return i < len(subnets) && subnets[i] == subnet
}

func printJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(pretty.Pretty(b)))
	return nil
}

// Execute executes root CLI command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
