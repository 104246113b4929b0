/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package entrylog_test

import (
	"fmt"
	"os"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-x-bookie/common/checksum"
	"github.com/hyperledger/fabric-x-bookie/common/monitoring"
	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/hyperledger/fabric-x-bookie/common/utils"
	"github.com/hyperledger/fabric-x-bookie/node/config"
	"github.com/hyperledger/fabric-x-bookie/node/entrylog"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func payloadOf(ledgerID types.LedgerID, entryID types.EntryID) []byte {
	return []byte(fmt.Sprintf("ledger-%d-entry-%d", ledgerID, entryID))
}

var _ = ginkgo.Describe("EntryLog", func() {
	var (
		conf   *config.BookieConfig
		logger *flogging.FabricLogger
		el     *entrylog.EntryLog
	)

	open := func() *entrylog.EntryLog {
		l, err := entrylog.Open(conf, logger, nil)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		return l
	}

	ginkgo.BeforeEach(func() {
		dir, err := os.MkdirTemp("", "entrylog-test")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		ginkgo.DeferCleanup(os.RemoveAll, dir)

		logger = flogging.MustGetLogger("entrylog.test")
		conf = config.Defaults(dir)
		conf.WriteBufferBytes = 128
		conf.ReadBufferBytes = 64
		conf.UnpersistedBytesBound = 1024
	})

	ginkgo.DescribeTable("round trips entries",
		func(digestType checksum.DigestType, password []byte, useV2Protocol bool) {
			conf.DigestType = digestType
			conf.Password = password
			conf.UseV2Protocol = useV2Protocol
			el = open()
			defer el.Close()

			for ledgerID := types.LedgerID(1); ledgerID <= 3; ledgerID++ {
				for entryID := types.EntryID(0); entryID < 10; entryID++ {
					_, err := el.AddEntry(ledgerID, entryID, entryID-1, payloadOf(ledgerID, entryID))
					gomega.Expect(err).NotTo(gomega.HaveOccurred())
				}
			}
			for ledgerID := types.LedgerID(1); ledgerID <= 3; ledgerID++ {
				for entryID := types.EntryID(0); entryID < 10; entryID++ {
					payload, err := el.ReadEntry(ledgerID, entryID)
					gomega.Expect(err).NotTo(gomega.HaveOccurred())
					gomega.Expect(payload).To(gomega.Equal(payloadOf(ledgerID, entryID)))
				}
			}
		},
		ginkgo.Entry("CRC32", checksum.CRC32, []byte(nil), false),
		ginkgo.Entry("CRC32C", checksum.CRC32C, []byte(nil), false),
		ginkgo.Entry("CRC32C over v2", checksum.CRC32C, []byte(nil), true),
		ginkgo.Entry("HMAC", checksum.HMAC, []byte("secret"), false),
		ginkgo.Entry("HMAC with an empty password", checksum.HMAC, []byte{}, true),
		ginkgo.Entry("DUMMY", checksum.DUMMY, []byte(nil), false),
	)

	ginkgo.Context("with an open entry log", func() {
		ginkgo.BeforeEach(func() {
			el = open()
		})

		ginkgo.AfterEach(func() {
			if el != nil {
				el.Close()
			}
		})

		ginkgo.It("reports missing entries", func() {
			_, err := el.ReadEntry(1, 0)
			gomega.Expect(err).To(gomega.MatchError(entrylog.ErrNoSuchEntry))

			_, _, err = el.LastEntry(1)
			gomega.Expect(err).To(gomega.MatchError(entrylog.ErrNoSuchEntry))

			_, err = el.GetExplicitLac(1)
			gomega.Expect(err).To(gomega.MatchError(entrylog.ErrNoSuchEntry))
		})

		ginkgo.It("rejects negative ids", func() {
			_, err := el.AddEntry(-1, 0, -1, nil)
			gomega.Expect(err).To(gomega.MatchError(utils.ErrInvalidArgument))
			_, err = el.AddEntry(1, -1, -1, nil)
			gomega.Expect(err).To(gomega.MatchError(utils.ErrInvalidArgument))
		})

		ginkgo.It("stores empty payloads", func() {
			loc, err := el.AddEntry(7, 0, types.InvalidEntryID, nil)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(loc).To(gomega.Equal(entrylog.Location{Offset: 4, Size: checksum.EntryHeaderLength + 4}))

			payload, err := el.ReadEntry(7, 0)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(payload).To(gomega.BeEmpty())
		})

		ginkgo.It("serves the last append of a rewritten entry", func() {
			_, err := el.AddEntry(1, 0, -1, []byte("first"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			_, err = el.AddEntry(1, 0, -1, []byte("second"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			payload, err := el.ReadEntry(1, 0)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(payload).To(gomega.Equal([]byte("second")))
		})

		ginkgo.It("stores explicit LAC values", func() {
			gomega.Expect(el.SetExplicitLac(3, 41)).To(gomega.Succeed())
			gomega.Expect(el.SetExplicitLac(3, 42)).To(gomega.Succeed())
			gomega.Expect(el.SetExplicitLac(4, types.InvalidEntryID)).To(gomega.Succeed())

			lac, err := el.GetExplicitLac(3)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(lac).To(gomega.Equal(types.EntryID(42)))

			lac, err = el.GetExplicitLac(4)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(lac).To(gomega.Equal(types.InvalidEntryID))
		})

		ginkgo.It("reports the last entry of a ledger", func() {
			for entryID := types.EntryID(0); entryID < 5; entryID++ {
				_, err := el.AddEntry(1, entryID, entryID-1, payloadOf(1, entryID))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				_, err = el.AddEntry(2, entryID+100, entryID+99, payloadOf(2, entryID+100))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
			}

			entryID, rd, err := el.LastEntry(1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(entryID).To(gomega.Equal(types.EntryID(4)))
			gomega.Expect(rd).To(gomega.Equal(checksum.RecoveryData{LastAddConfirmed: 3, Length: int64(len(payloadOf(1, 4)))}))

			entryID, rd, err = el.LastEntry(2)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(entryID).To(gomega.Equal(types.EntryID(104)))
			gomega.Expect(rd.LastAddConfirmed).To(gomega.Equal(types.EntryID(103)))
		})

		ginkgo.It("scans records in append order", func() {
			var expected []checksum.EntryHeader
			for entryID := types.EntryID(0); entryID < 4; entryID++ {
				for _, ledgerID := range []types.LedgerID{5, 2} {
					payload := payloadOf(ledgerID, entryID)
					_, err := el.AddEntry(ledgerID, entryID, entryID-1, payload)
					gomega.Expect(err).NotTo(gomega.HaveOccurred())
					expected = append(expected, checksum.EntryHeader{
						LedgerID:         ledgerID,
						EntryID:          entryID,
						LastAddConfirmed: entryID - 1,
						Length:           int64(len(payload)),
					})
				}
			}

			var scanned []checksum.EntryHeader
			var end int64
			gomega.Expect(el.Scan(func(loc entrylog.Location, header checksum.EntryHeader) error {
				gomega.Expect(loc.Offset).To(gomega.Equal(end + 4))
				end = loc.Offset + int64(loc.Size)
				scanned = append(scanned, header)
				return nil
			})).To(gomega.Succeed())
			gomega.Expect(scanned).To(gomega.Equal(expected))
			gomega.Expect(end).To(gomega.Equal(el.Position()))
		})

		ginkgo.It("flushes records to the file", func() {
			_, err := el.AddEntry(1, 0, -1, payloadOf(1, 0))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			info, err := os.Stat(conf.EntryLogPath())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(info.Size()).To(gomega.BeZero())

			gomega.Expect(el.Flush(false)).To(gomega.Succeed())
			info, err = os.Stat(conf.EntryLogPath())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(info.Size()).To(gomega.Equal(el.Position()))

			gomega.Expect(el.Flush(true)).To(gomega.Succeed())
		})

		ginkgo.It("refuses a second close", func() {
			gomega.Expect(el.Close()).To(gomega.Succeed())
			gomega.Expect(el.Close()).To(gomega.MatchError(entrylog.ErrClosedEntryLog))
			el = nil
		})
	})

	ginkgo.Context("when reopened", func() {
		var size int64

		ginkgo.BeforeEach(func() {
			el = open()
			for entryID := types.EntryID(0); entryID < 20; entryID++ {
				_, err := el.AddEntry(1, entryID, entryID-1, payloadOf(1, entryID))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
			}
			gomega.Expect(el.SetExplicitLac(1, 18)).To(gomega.Succeed())
			size = el.Position()
			gomega.Expect(el.Close()).To(gomega.Succeed())
		})

		ginkgo.AfterEach(func() {
			el.Close()
		})

		ginkgo.It("appends after the existing records", func() {
			el = open()
			gomega.Expect(el.Position()).To(gomega.Equal(size))

			lac, err := el.GetExplicitLac(1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(lac).To(gomega.Equal(types.EntryID(18)))

			_, err = el.AddEntry(1, 20, 19, payloadOf(1, 20))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			for entryID := types.EntryID(0); entryID <= 20; entryID++ {
				payload, err := el.ReadEntry(1, entryID)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(payload).To(gomega.Equal(payloadOf(1, entryID)))
			}
		})

		ginkgo.It("rebuilds a lost index", func() {
			gomega.Expect(os.RemoveAll(conf.IndexPath())).To(gomega.Succeed())

			el = open()
			for entryID := types.EntryID(0); entryID < 20; entryID++ {
				payload, err := el.ReadEntry(1, entryID)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(payload).To(gomega.Equal(payloadOf(1, entryID)))
			}
			entryID, _, err := el.LastEntry(1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(entryID).To(gomega.Equal(types.EntryID(19)))
		})

		ginkgo.It("cuts off a torn record", func() {
			f, err := os.OpenFile(conf.EntryLogPath(), os.O_WRONLY|os.O_APPEND, 0o644)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			_, err = f.Write(append([]byte{0, 0, 0, 100}, make([]byte, 10)...))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(f.Close()).To(gomega.Succeed())

			el = open()
			gomega.Expect(el.Position()).To(gomega.Equal(size))
			gomega.Expect(el.Scan(nil)).To(gomega.Succeed())

			_, err = el.AddEntry(1, 20, 19, payloadOf(1, 20))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			payload, err := el.ReadEntry(1, 20)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(payload).To(gomega.Equal(payloadOf(1, 20)))
		})

		ginkgo.It("rewinds an index that runs ahead of the file", func() {
			gomega.Expect(os.Truncate(conf.EntryLogPath(), size-5)).To(gomega.Succeed())

			el = open()
			position := el.Position()
			gomega.Expect(position).To(gomega.BeNumerically("<", size-5))
			info, err := os.Stat(conf.EntryLogPath())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(info.Size()).To(gomega.Equal(position))

			_, err = el.ReadEntry(1, 19)
			gomega.Expect(err).To(gomega.MatchError(entrylog.ErrNoSuchEntry))
			entryID, _, err := el.LastEntry(1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(entryID).To(gomega.Equal(types.EntryID(18)))
			lac, err := el.GetExplicitLac(1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(lac).To(gomega.Equal(types.EntryID(18)))
			gomega.Expect(el.Scan(nil)).To(gomega.Succeed())

			_, err = el.AddEntry(1, 19, 18, payloadOf(1, 19))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(el.Scan(nil)).To(gomega.Succeed())
			gomega.Expect(el.Position()).To(gomega.Equal(size))
			gomega.Expect(el.Close()).To(gomega.Succeed())

			el = open()
			gomega.Expect(el.Position()).To(gomega.Equal(size))
			for entryID := types.EntryID(0); entryID < 20; entryID++ {
				payload, err := el.ReadEntry(1, entryID)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(payload).To(gomega.Equal(payloadOf(1, entryID)))
			}
		})

		ginkgo.It("falls back to the earlier record of an entry whose rewrite was lost", func() {
			el = open()
			loc, err := el.AddEntry(1, 5, 19, []byte("rewritten"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(loc.Offset).To(gomega.Equal(size + 4))
			payload, err := el.ReadEntry(1, 5)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(payload).To(gomega.Equal([]byte("rewritten")))
			gomega.Expect(el.Close()).To(gomega.Succeed())

			gomega.Expect(os.Truncate(conf.EntryLogPath(), size)).To(gomega.Succeed())

			el = open()
			gomega.Expect(el.Position()).To(gomega.Equal(size))
			payload, err = el.ReadEntry(1, 5)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(payload).To(gomega.Equal(payloadOf(1, 5)))
			gomega.Expect(el.Scan(nil)).To(gomega.Succeed())
		})

		ginkgo.It("detects a corrupted payload", func() {
			raw, err := os.ReadFile(conf.EntryLogPath())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			raw[len(raw)-1] ^= 0xff
			gomega.Expect(os.WriteFile(conf.EntryLogPath(), raw, 0o644)).To(gomega.Succeed())

			el = open()
			_, err = el.ReadEntry(1, 19)
			gomega.Expect(err).To(gomega.MatchError(checksum.ErrDigestMismatch))
			_, _, err = el.LastEntry(1)
			gomega.Expect(err).To(gomega.MatchError(checksum.ErrDigestMismatch))
			gomega.Expect(el.Scan(nil)).To(gomega.MatchError(checksum.ErrDigestMismatch))

			payload, err := el.ReadEntry(1, 18)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(payload).To(gomega.Equal(payloadOf(1, 18)))
		})
	})

	ginkgo.It("rejects entries keyed with another password", func() {
		conf.DigestType = checksum.HMAC
		conf.Password = []byte("alice")
		el = open()
		_, err := el.AddEntry(1, 0, -1, payloadOf(1, 0))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(el.SetExplicitLac(1, 0)).To(gomega.Succeed())
		gomega.Expect(el.Close()).To(gomega.Succeed())

		conf.Password = []byte("bob")
		el = open()
		defer el.Close()

		_, err = el.ReadEntry(1, 0)
		gomega.Expect(err).To(gomega.MatchError(checksum.ErrDigestMismatch))
		_, err = el.GetExplicitLac(1)
		gomega.Expect(err).To(gomega.MatchError(checksum.ErrDigestMismatch))
	})

	ginkgo.It("rejects an invalid configuration", func() {
		conf.DigestType = checksum.HMAC
		_, err := entrylog.Open(conf, logger, nil)
		gomega.Expect(err).To(gomega.MatchError(checksum.ErrKeyConfiguration))
	})

	ginkgo.It("counts its operations", func() {
		p := monitoring.NewProvider(logger)
		l, err := entrylog.Open(conf, logger, p)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer l.Close()

		loc, err := l.AddEntry(1, 0, -1, []byte("payload"))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		_, err = l.ReadEntry(1, 0)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		_, err = l.ReadEntry(1, 1)
		gomega.Expect(err).To(gomega.HaveOccurred())

		m := l.Metrics()
		gomega.Expect(monitoring.GetMetricValue(m.EntriesAdded, logger)).To(gomega.Equal(float64(1)))
		gomega.Expect(monitoring.GetMetricValue(m.BytesWritten, logger)).To(gomega.Equal(float64(4 + loc.Size)))
		gomega.Expect(monitoring.GetMetricValue(m.EntriesRead, logger)).To(gomega.Equal(float64(1)))
		gomega.Expect(monitoring.GetMetricValue(m.DigestMismatches, logger)).To(gomega.BeZero())
	})

	ginkgo.Describe("Metrics", func() {
		ginkgo.It("reports without a monitoring endpoint", func() {
			conf.MetricsLogInterval = 10 * time.Millisecond
			m, err := entrylog.NewMetrics(conf, logger)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			l, err := entrylog.Open(conf, logger, m.Provider())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			defer l.Close()

			gomega.Expect(m.Start(l.Metrics())).To(gomega.Succeed())
			_, err = l.AddEntry(1, 0, -1, []byte("payload"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			time.Sleep(30 * time.Millisecond)
			m.Stop()
			m.Stop()
		})

		ginkgo.It("serves metrics on the monitoring endpoint", func() {
			conf.MonitoringListenAddress = "127.0.0.1:0"
			m, err := entrylog.NewMetrics(conf, logger)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			l, err := entrylog.Open(conf, logger, m.Provider())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			defer l.Close()

			gomega.Expect(m.Start(l.Metrics())).To(gomega.Succeed())
			_, err = l.AddEntry(1, 0, -1, []byte("payload"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			m.Stop()
		})

		ginkgo.It("rejects a malformed monitoring address", func() {
			conf.MonitoringListenAddress = "localhost"
			_, err := entrylog.NewMetrics(conf, logger)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})
})
