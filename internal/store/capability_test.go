package store

import (
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

var _ = Describe("CapabilityCache", func() {
	var (
		mockDB *sqlx.DB
		mock   sqlmock.Sqlmock
		mr     *miniredis.Miniredis
		rdb    *redis.Client
		cache  *CapabilityCache
	)

	BeforeEach(func() {
		mockDB, mock = newTestDB()
		mock.MatchExpectationsInOrder(false)

		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

		cache = NewCapabilityCache(mockDB, rdb, zap.NewNop())
	})

	AfterEach(func() {
		cache.Close()
		mockDB.Close()
		mr.Close()
	})

	It("answers Lookup from memory immediately after Upsert", func() {
		mock.ExpectExec("INSERT INTO device_capabilities").WillReturnResult(sqlmock.NewResult(1, 1))

		record := model.CapabilityRecord{
			DeviceModel: "tradfri-bulb",
			Capabilities: map[string]model.CapabilityDescriptor{
				"brightness": {Kind: model.CapabilityNumeric},
			},
			LastUpdated: time.Now(),
		}
		cache.Upsert(record)

		got, ok := cache.Lookup("tradfri-bulb")
		Expect(ok).To(BeTrue())
		Expect(got.DeviceModel).To(Equal("tradfri-bulb"))
	})

	It("reports a device with no cached record as needing refresh", func() {
		devices := []model.DeviceRecord{{DeviceID: "d1", Model: "unknown-model"}}
		stale := cache.NeedsRefresh(devices, time.Now())
		Expect(stale).To(HaveLen(1))
		Expect(stale[0].DeviceID).To(Equal("d1"))
	})

	It("reports a device with a fresh cached record as not needing refresh", func() {
		mock.ExpectExec("INSERT INTO device_capabilities").WillReturnResult(sqlmock.NewResult(1, 1))
		now := time.Now()
		cache.Upsert(model.CapabilityRecord{DeviceModel: "tradfri-bulb", LastUpdated: now})

		devices := []model.DeviceRecord{{DeviceID: "d1", Model: "tradfri-bulb"}}
		stale := cache.NeedsRefresh(devices, now)
		Expect(stale).To(BeEmpty())
	})

	It("reports a device whose cached record is older than 30 days as stale", func() {
		mock.ExpectExec("INSERT INTO device_capabilities").WillReturnResult(sqlmock.NewResult(1, 1))
		old := time.Now().Add(-40 * 24 * time.Hour)
		cache.Upsert(model.CapabilityRecord{DeviceModel: "tradfri-bulb", LastUpdated: old})

		devices := []model.DeviceRecord{{DeviceID: "d1", Model: "tradfri-bulb"}}
		stale := cache.NeedsRefresh(devices, time.Now())
		Expect(stale).To(HaveLen(1))
	})
})
