/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package bookie

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-x-bookie/common/checksum"
	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/hyperledger/fabric-x-bookie/node/config"
	"github.com/hyperledger/fabric-x-bookie/node/entrylog"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
)

var logger = flogging.MustGetLogger("bookie")

type CLI struct {
	app         *kingpin.Application
	configPath  *string
	dispatchers map[string]func() error
	out         io.Writer
}

// Command registers a sub command and the function that runs it.
func (cli *CLI) Command(name, help string, onCmd func() error) *kingpin.CmdClause {
	cli.dispatchers[name] = onCmd
	return cli.app.Command(name, help)
}

func (cli *CLI) configureCommands() {
	cli.configureGenConfig()
	cli.configureAdd()
	cli.configureRead()
	cli.configureSetLac()
	cli.configureGetLac()
	cli.configureScan()
	cli.configureLoad()
}

func (cli *CLI) configureGenConfig() {
	var output, directory, digest, password, monitoringAddress *string
	var useV2Protocol *bool
	cmd := cli.Command("genconfig", "write a bookie configuration file", func() error {
		digestType, err := checksum.ParseDigestType(*digest)
		if err != nil {
			return err
		}
		conf := config.Defaults(*directory)
		conf.DigestType = digestType
		conf.UseV2Protocol = *useV2Protocol
		conf.MonitoringListenAddress = *monitoringAddress
		if *password != "" {
			conf.Password = config.RawBytes(*password)
		}
		if err = conf.Validate(); err != nil {
			return err
		}
		if err = conf.WriteConfig(*output); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "Configuration written to %s\n", *output)
		return nil
	})
	output = cmd.Flag("output", "path of the configuration file to write").Required().String()
	directory = cmd.Flag("directory", "directory holding the entry log and its index").Required().String()
	digest = cmd.Flag("digest", "digest type: CRC32, CRC32C, HMAC or NONE").Default(checksum.CRC32C.String()).String()
	password = cmd.Flag("password", "password of HMAC digests").String()
	useV2Protocol = cmd.Flag("v2", "package entries without copying their payload").Bool()
	monitoringAddress = cmd.Flag("monitoring", "host:port to serve prometheus metrics on").String()
}

func (cli *CLI) configureAdd() {
	var ledgerID, entryID, lac *int64
	var data *string
	cmd := cli.Command("add", "append an entry", func() error {
		return cli.withEntryLog(func(el *entrylog.EntryLog) error {
			loc, err := el.AddEntry(types.LedgerID(*ledgerID), types.EntryID(*entryID), types.EntryID(*lac), []byte(*data))
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "Added entry %d of ledger %d at offset %d (%d bytes)\n", *entryID, *ledgerID, loc.Offset, loc.Size)
			return nil
		})
	})
	ledgerID = cmd.Flag("ledger", "ledger id").Required().Int64()
	entryID = cmd.Flag("entry", "entry id").Required().Int64()
	lac = cmd.Flag("lac", "last add confirmed").Default("-1").Int64()
	data = cmd.Flag("data", "entry payload").Required().String()
}

func (cli *CLI) configureRead() {
	var ledgerID, entryID *int64
	cmd := cli.Command("read", "print the payload of an entry", func() error {
		return cli.withEntryLog(func(el *entrylog.EntryLog) error {
			payload, err := el.ReadEntry(types.LedgerID(*ledgerID), types.EntryID(*entryID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "%s\n", payload)
			return nil
		})
	})
	ledgerID = cmd.Flag("ledger", "ledger id").Required().Int64()
	entryID = cmd.Flag("entry", "entry id").Required().Int64()
}

func (cli *CLI) configureSetLac() {
	var ledgerID, lac *int64
	cmd := cli.Command("setlac", "store the explicit LAC of a ledger", func() error {
		return cli.withEntryLog(func(el *entrylog.EntryLog) error {
			return el.SetExplicitLac(types.LedgerID(*ledgerID), types.EntryID(*lac))
		})
	})
	ledgerID = cmd.Flag("ledger", "ledger id").Required().Int64()
	lac = cmd.Flag("lac", "last add confirmed").Required().Int64()
}

func (cli *CLI) configureGetLac() {
	var ledgerID *int64
	cmd := cli.Command("getlac", "print the explicit LAC of a ledger", func() error {
		return cli.withEntryLog(func(el *entrylog.EntryLog) error {
			lac, err := el.GetExplicitLac(types.LedgerID(*ledgerID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "%d\n", lac)
			return nil
		})
	})
	ledgerID = cmd.Flag("ledger", "ledger id").Required().Int64()
}

func (cli *CLI) configureScan() {
	cli.Command("scan", "verify every record of the entry log", func() error {
		return cli.withEntryLog(func(el *entrylog.EntryLog) error {
			records := 0
			err := el.Scan(func(loc entrylog.Location, header checksum.EntryHeader) error {
				records++
				fmt.Fprintf(cli.out, "offset=%d size=%d ledger=%d entry=%d lac=%d length=%d\n",
					loc.Offset, loc.Size, header.LedgerID, header.EntryID, header.LastAddConfirmed, header.Length)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "Verified %d records\n", records)
			return nil
		})
	})
}

func (cli *CLI) configureLoad() {
	var ledgerID, entries *int64
	var size *int
	cmd := cli.Command("load", "append generated entries and report the throughput", func() error {
		conf, err := cli.loadConfig()
		if err != nil {
			return err
		}
		metrics, err := entrylog.NewMetrics(conf, logger)
		if err != nil {
			return err
		}
		el, err := entrylog.Open(conf, logger, metrics.Provider())
		if err != nil {
			return err
		}
		if err = metrics.Start(el.Metrics()); err != nil {
			el.Close()
			return err
		}
		defer metrics.Stop()

		first := types.EntryID(0)
		if last, _, err := el.LastEntry(types.LedgerID(*ledgerID)); err == nil {
			first = last + 1
		} else if !errors.Is(err, entrylog.ErrNoSuchEntry) {
			el.Close()
			return err
		}

		payload := make([]byte, *size)
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		start := time.Now()
		for i := types.EntryID(0); i < types.EntryID(*entries); i++ {
			r.Read(payload)
			if _, err = el.AddEntry(types.LedgerID(*ledgerID), first+i, first+i-1, payload); err != nil {
				el.Close()
				return err
			}
		}
		if err = el.Flush(true); err != nil {
			el.Close()
			return err
		}
		elapsed := time.Since(start)
		fmt.Fprintf(cli.out, "Loaded %d entries of %d bytes into ledger %d in %s (%.0f entries/sec)\n",
			*entries, *size, *ledgerID, elapsed, float64(*entries)/elapsed.Seconds())
		return el.Close()
	})
	ledgerID = cmd.Flag("ledger", "ledger id").Required().Int64()
	entries = cmd.Flag("entries", "number of entries to append").Default("1000").Int64()
	size = cmd.Flag("size", "payload size in bytes").Default("1024").Int()
}

func (cli *CLI) loadConfig() (*config.BookieConfig, error) {
	if *cli.configPath == "" {
		return nil, errors.New("config parameter missing")
	}
	conf, err := config.ReadConfig(*cli.configPath)
	if err != nil {
		return nil, err
	}
	flogging.ActivateSpec(conf.LogSpec)
	return conf, nil
}

// withEntryLog opens the configured entry log, runs f and closes the log durably.
func (cli *CLI) withEntryLog(f func(el *entrylog.EntryLog) error) error {
	conf, err := cli.loadConfig()
	if err != nil {
		return err
	}
	el, err := entrylog.Open(conf, logger, nil)
	if err != nil {
		return err
	}

	if err = f(el); err != nil {
		el.Close()
		return err
	}
	if err = el.Flush(true); err != nil {
		el.Close()
		return err
	}
	return el.Close()
}

// Run parses args and runs the selected command.
func (cli *CLI) Run(args []string) error {
	command, err := cli.app.Parse(args)
	if err != nil {
		return err
	}
	f, exists := cli.dispatchers[command]
	if !exists {
		return errors.Errorf("command %s doesn't exist", command)
	}
	return f()
}

func NewCLI(out io.Writer) *CLI {
	app := kingpin.New("bookie", "Stores ledger entries in a digest protected, buffered entry log")
	cli := &CLI{
		app:         app,
		dispatchers: make(map[string]func() error),
		out:         out,
	}
	cli.configPath = app.Flag("config", "Specifies the config file to load the configuration from").String()
	cli.configureCommands()
	return cli
}
