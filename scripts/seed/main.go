package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
)

const seedActor int64 = 1

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	companyID, err := strconv.ParseInt(getenv("SEED_COMPANY", "1"), 10, 64)
	if err != nil || companyID <= 0 {
		log.Fatalf("SEED_COMPANY must be a positive integer")
	}

	backends, err := app.OpenBackends(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open backends: %v", err)
	}
	defer backends.Close()
	engine, err := app.NewEngine(ctx, cfg, backends, logger, app.EngineDeps{})
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	fmt.Println("→ Seeding chart of accounts...")
	if err := seedChart(ctx, engine, companyID); err != nil {
		log.Fatalf("seed chart: %v", err)
	}

	fmt.Println("→ Seeding opening balances...")
	if err := seedOpening(ctx, engine, companyID); err != nil {
		log.Fatalf("seed opening balances: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

func seedChart(ctx context.Context, engine *accounting.Engine, companyID int64) error {
	chart := []struct {
		code    string
		name    string
		accType accounts.AccountType
		parent  string
	}{
		// Assets
		{"1000", "ASET", accounts.AccountTypeAsset, ""},
		{"1100", "Kas dan Bank", accounts.AccountTypeAsset, "1000"},
		{"1110", "Kas", accounts.AccountTypeAsset, "1100"},
		{"1120", "Bank BCA", accounts.AccountTypeAsset, "1100"},
		{"1130", "Bank Mandiri", accounts.AccountTypeAsset, "1100"},
		{"1200", "Piutang", accounts.AccountTypeAsset, "1000"},
		{"1210", "Piutang Usaha", accounts.AccountTypeAsset, "1200"},
		{"1220", "Piutang Karyawan", accounts.AccountTypeAsset, "1200"},
		{"1300", "Persediaan", accounts.AccountTypeAsset, "1000"},
		{"1310", "Persediaan Barang Dagang", accounts.AccountTypeAsset, "1300"},
		// Liabilities
		{"2000", "KEWAJIBAN", accounts.AccountTypeLiability, ""},
		{"2100", "Hutang Lancar", accounts.AccountTypeLiability, "2000"},
		{"2110", "Hutang Usaha", accounts.AccountTypeLiability, "2100"},
		{"2120", "Hutang Pajak", accounts.AccountTypeLiability, "2100"},
		{"2130", "Hutang Gaji", accounts.AccountTypeLiability, "2100"},
		// Equity
		{"3000", "EKUITAS", accounts.AccountTypeEquity, ""},
		{"3100", "Modal Disetor", accounts.AccountTypeEquity, "3000"},
		{"3200", "Laba Ditahan", accounts.AccountTypeEquity, "3000"},
		// Revenue
		{"4000", "PENDAPATAN", accounts.AccountTypeRevenue, ""},
		{"4100", "Pendapatan Penjualan", accounts.AccountTypeRevenue, "4000"},
		{"4200", "Pendapatan Lain-lain", accounts.AccountTypeRevenue, "4000"},
		// Expenses
		{"5000", "BEBAN", accounts.AccountTypeExpense, ""},
		{"5100", "Beban Pokok Penjualan", accounts.AccountTypeExpense, "5000"},
		{"5200", "Beban Operasional", accounts.AccountTypeExpense, "5000"},
		{"5210", "Beban Gaji", accounts.AccountTypeExpense, "5200"},
		{"5220", "Beban Sewa", accounts.AccountTypeExpense, "5200"},
		{"5230", "Beban Listrik & Air", accounts.AccountTypeExpense, "5200"},
		{"5300", "Beban Administrasi", accounts.AccountTypeExpense, "5000"},
	}
	for _, a := range chart {
		id, _ := strconv.ParseInt(a.code, 10, 64)
		_, err := engine.AddAccount(ctx, companyID, seedActor, accounts.NewAccountInput{
			ID:         companyID*100000 + id,
			Code:       a.code,
			Name:       a.name,
			Type:       a.accType,
			ParentCode: a.parent,
		})
		if errors.Is(err, accounts.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return fmt.Errorf("account %s: %w", a.code, err)
		}
	}
	return nil
}

// =============================================================================
// OPENING BALANCES
// =============================================================================

func seedOpening(ctx context.Context, engine *accounting.Engine, companyID int64) error {
	year := time.Now().Year()
	res, err := engine.SubmitPosting(ctx, journals.PostingRequest{
		CompanyID:   companyID,
		Module:      shared.ModuleGeneral,
		DocumentID:  fmt.Sprintf("OPENING-%d", year),
		PostingDate: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		Memo:        "Saldo awal",
		ActorID:     seedActor,
		Lines: []journals.LineInput{
			{AccountCode: "1120", Debit: shared.Amount("250000000"), Credit: shared.Amount("0")},
			{AccountCode: "1310", Debit: shared.Amount("75000000"), Credit: shared.Amount("0")},
			{AccountCode: "2110", Debit: shared.Amount("0"), Credit: shared.Amount("25000000")},
			{AccountCode: "3100", Debit: shared.Amount("0"), Credit: shared.Amount("300000000")},
		},
	})
	if err != nil {
		return err
	}
	if res.Duplicate {
		fmt.Println("  opening balances already posted")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
