package store

import (
	"context"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

var _ = Describe("SuggestionRepository.SaveAll", func() {
	It("inserts a newly generated suggestion", func() {
		db, mock := newTestDB()
		defer db.Close()
		repo := &SuggestionRepository{db: db, log: zap.NewNop()}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO suggestions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		s := model.Suggestion{
			ID:         "s1",
			Source:     model.SourcePattern,
			Title:      "Turn off hallway light",
			Confidence: 0.85,
			Category:   model.CategoryEnergy,
			Priority:   model.PriorityMedium,
			Status:     model.StatusPending,
		}

		Expect(repo.SaveAll(context.Background(), []model.Suggestion{s})).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

var _ = Describe("SuggestionRepository.SetStatus", func() {
	It("approves a pending suggestion", func() {
		db, mock := newTestDB()
		defer db.Close()
		repo := &SuggestionRepository{db: db, log: zap.NewNop()}

		mock.ExpectExec("UPDATE suggestions SET status").
			WithArgs(model.StatusApproved, "s1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		Expect(repo.SetStatus(context.Background(), "s1", model.StatusApproved)).To(Succeed())
	})

	It("returns a not_found error when no row matches", func() {
		db, mock := newTestDB()
		defer db.Close()
		repo := &SuggestionRepository{db: db, log: zap.NewNop()}

		mock.ExpectExec("UPDATE suggestions SET status").
			WithArgs(model.StatusApproved, "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SetStatus(context.Background(), "missing", model.StatusApproved)
		Expect(apperrors.Is(err, apperrors.KindNotFound)).To(BeTrue())
	})
})

var _ = Describe("SuggestionRepository.BatchSetStatus", func() {
	It("rejects a batch of suggestions in one statement", func() {
		db, mock := newTestDB()
		defer db.Close()
		repo := &SuggestionRepository{db: db, log: zap.NewNop()}

		mock.ExpectExec("UPDATE suggestions SET status").
			WithArgs(model.StatusRejected, "{\"s1\",\"s2\"}").
			WillReturnResult(sqlmock.NewResult(0, 2))

		n, err := repo.BatchSetStatus(context.Background(), []string{"s1", "s2"}, model.StatusRejected)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(2)))
	})
})

var _ = Describe("SynergyRepository.SaveAll", func() {
	It("upserts a device-pair synergy opportunity", func() {
		db, mock := newTestDB()
		defer db.Close()
		repo := &SynergyRepository{db: db, log: zap.NewNop()}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO synergy_opportunities").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		syn := model.SynergyOpportunity{
			SynergyID:   "syn1",
			SynergyType: model.SynergyDevicePair,
			Devices:     []string{"light.hall", "switch.fan"},
			ImpactScore: 0.7,
			Confidence:  0.6,
		}

		Expect(repo.SaveAll(context.Background(), []model.SynergyOpportunity{syn})).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

var _ = Describe("FeedbackRepository.Create", func() {
	It("inserts a feedback record", func() {
		db, mock := newTestDB()
		defer db.Close()
		repo := &FeedbackRepository{db: db, log: zap.NewNop()}

		mock.ExpectExec("INSERT INTO user_feedback").
			WillReturnResult(sqlmock.NewResult(1, 1))

		feedback := model.Feedback{ID: "f1", SuggestionID: "s1", Action: model.FeedbackApproved}
		Expect(repo.Create(context.Background(), feedback)).To(Succeed())
	})
})
