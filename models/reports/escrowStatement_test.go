package reports_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/mmdatafocus/contracts_backend/models/reports"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func setupFundedContract(t *testing.T) (client models.User, doer models.User, payment *models.Payment) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := config.ConnectSQLite(fmt.Sprintf("file:reports_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	prev := config.GetDB()
	config.SetDB(conn)
	t.Cleanup(func() {
		config.SetDB(prev)
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	prevPolicy := config.GetPolicy()
	config.SetPolicy(config.DefaultContractPolicy())
	t.Cleanup(func() { config.SetPolicy(prevPolicy) })

	client = models.User{Name: "Client", Balance: decimal.NewFromInt(100000)}
	doer = models.User{Name: "Doer"}
	for _, u := range []*models.User{&client, &doer} {
		if err := conn.Create(u).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	now := time.Now()
	job := models.Job{
		ClientID:   client.ID,
		Title:      "Paint the fence",
		Price:      decimal.NewFromInt(10000),
		StartDate:  now.Add(10 * 24 * time.Hour),
		EndDate:    now.Add(12 * 24 * time.Hour),
		Status:     models.JobStatusOpen,
		MaxWorkers: 1,
	}
	if err := conn.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	ctx := context.Background()
	c, err := models.CreateContract(ctx, client.ID, models.NewContract{JobID: job.ID, DoerID: doer.ID})
	if err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
	for _, id := range []int{client.ID, doer.ID} {
		if _, err := models.AcceptContract(ctx, c.ID, id); err != nil {
			t.Fatalf("AcceptContract(%d): %v", id, err)
		}
	}
	payment, err = models.FundEscrowFromBalance(ctx, c.ID, client.ID)
	if err != nil {
		t.Fatalf("FundEscrowFromBalance: %v", err)
	}
	return client, doer, payment
}

func TestGetEscrowStatement(t *testing.T) {
	client, doer, payment := setupFundedContract(t)
	ctx := context.Background()
	rng := reports.StatementRange{From: time.Now().Add(-24 * time.Hour), Until: time.Now().Add(24 * time.Hour)}

	st, err := reports.GetEscrowStatement(ctx, client.ID, rng)
	if err != nil {
		t.Fatalf("GetEscrowStatement: %v", err)
	}
	if !st.Opening.IsZero() {
		t.Fatalf("expected zero opening balance, got %s", st.Opening)
	}
	if len(st.Balance) != 1 || st.Balance[0].Reason != "escrow_funding" || st.Balance[0].Type != "debit" {
		t.Fatalf("unexpected balance lines: %+v", st.Balance)
	}
	want := decimal.NewFromInt(100000).Sub(payment.Amount)
	if !st.Closing.Equal(want) {
		t.Fatalf("expected closing %s, got %s", want, st.Closing)
	}
	if len(st.Escrow) != 1 || st.Escrow[0].Role != "payer" || st.Escrow[0].Status != string(models.PaymentStatusHeldEscrow) {
		t.Fatalf("unexpected escrow lines: %+v", st.Escrow)
	}

	doerSt, err := reports.GetEscrowStatement(ctx, doer.ID, rng)
	if err != nil {
		t.Fatalf("GetEscrowStatement(doer): %v", err)
	}
	if len(doerSt.Balance) != 0 || len(doerSt.Escrow) != 1 || doerSt.Escrow[0].Role != "payee" {
		t.Fatalf("unexpected doer statement: %+v", doerSt)
	}
}

func TestGetEscrowStatement_InvalidRange(t *testing.T) {
	now := time.Now()
	tests := []reports.StatementRange{
		{},
		{From: now},
		{From: now, Until: now},
		{From: now, Until: now.Add(-time.Hour)},
	}
	for _, rng := range tests {
		if _, err := reports.GetEscrowStatement(context.Background(), 1, rng); err == nil {
			t.Fatalf("expected an error for range %+v", rng)
		}
	}
}

func TestExportEscrowStatement(t *testing.T) {
	client, _, _ := setupFundedContract(t)
	rng := reports.StatementRange{From: time.Now().Add(-24 * time.Hour), Until: time.Now().Add(24 * time.Hour)}
	st, err := reports.GetEscrowStatement(context.Background(), client.ID, rng)
	if err != nil {
		t.Fatalf("GetEscrowStatement: %v", err)
	}

	raw, err := reports.ExportEscrowStatement(st)
	if err != nil {
		t.Fatalf("ExportEscrowStatement: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if strings.Join(sheets, ",") != "Summary,Balance,Escrow" {
		t.Fatalf("unexpected sheets: %v", sheets)
	}
	tests := []struct {
		sheet, cell, want string
	}{
		{"Summary", "B1", "Value"},
		{"Summary", "B2", "Client"},
		{"Balance", "C1", "Reason"},
		{"Balance", "C2", "escrow_funding"},
		{"Escrow", "C2", "payer"},
		{"Escrow", "E2", "held_escrow"},
	}
	for _, tt := range tests {
		got, err := f.GetCellValue(tt.sheet, tt.cell)
		if err != nil {
			t.Fatalf("GetCellValue(%s!%s): %v", tt.sheet, tt.cell, err)
		}
		if got != tt.want {
			t.Fatalf("%s!%s: expected %q, got %q", tt.sheet, tt.cell, tt.want, got)
		}
	}
}
