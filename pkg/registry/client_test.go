package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
)

func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Registry Client Suite")
}

var testLog = logrus.NewEntry(logrus.New())

var _ = Describe("Client.GetDevice", func() {
	It("returns a not-found error without retrying", func() {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := New(server.URL, testLog)
		_, err := c.GetDevice(context.Background(), "missing-device")

		Expect(err).To(HaveOccurred())
		Expect(apperrors.Is(err, apperrors.KindNotFound)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})
})

var _ = Describe("Client.ListDevices", func() {
	It("decodes the device list with entities", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]map[string]any{
				{
					"device_id": "dev1", "name": "Kitchen Light", "manufacturer": "Acme",
					"model": "X1", "area_id": "kitchen", "integration": "zigbee2mqtt",
					"entities": []map[string]any{{"entity_id": "light.kitchen", "domain": "light"}},
				},
			})
		}))
		defer server.Close()

		c := New(server.URL, testLog)
		devices, err := c.ListDevices(context.Background())

		Expect(err).ToNot(HaveOccurred())
		Expect(devices).To(HaveLen(1))
		Expect(devices[0].Entities).To(HaveLen(1))
		Expect(devices[0].Entities[0].EntityID).To(Equal("light.kitchen"))
	})
})
