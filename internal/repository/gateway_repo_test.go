package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"schoolpay/internal/database"
	"schoolpay/internal/domain"
	"schoolpay/internal/models"
)

func TestSetDefaultClearsOthers(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	repo := NewGatewayRepository(db)

	a := &models.PaymentGateway{Name: "stripe", DisplayName: "Stripe", IsActive: true, IsDefault: true,
		SupportedCurrencies: datatypes.JSON([]byte(`["USD"]`))}
	b := &models.PaymentGateway{Name: "cardlink", DisplayName: "CardLink", IsActive: true}
	require.NoError(t, repo.Create(a))
	require.NoError(t, repo.Create(b))

	require.NoError(t, repo.SetDefault(b.ID))

	a2, err := repo.GetByID(a.ID)
	require.NoError(t, err)
	b2, err := repo.GetByID(b.ID)
	require.NoError(t, err)
	assert.False(t, a2.IsDefault)
	assert.True(t, b2.IsDefault)
}

func TestGatewaySoftDelete(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	repo := NewGatewayRepository(db)

	g := &models.PaymentGateway{Name: "stripe", DisplayName: "Stripe", IsActive: true}
	require.NoError(t, repo.Create(g))
	require.NoError(t, repo.SoftDelete(g.ID))

	_, err = repo.GetByID(g.ID)
	assert.Error(t, err)

	// The row survives for transactions that reference it.
	var count int64
	require.NoError(t, db.Unscoped().Model(&models.PaymentGateway{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCredentialActivationDeactivatesSiblings(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	repo := NewCredentialRepository(db)

	first := &models.PaymentGatewayCredential{GatewayID: 1, Environment: domain.EnvSandbox, APIKey: "enc-a", IsActive: true}
	require.NoError(t, repo.Create(first))

	// Creating a new active set retires the previous one.
	second := &models.PaymentGatewayCredential{GatewayID: 1, Environment: domain.EnvSandbox, APIKey: "enc-b", IsActive: true}
	require.NoError(t, repo.Create(second))

	active, err := repo.GetActive(1, domain.EnvSandbox)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	old, err := repo.GetByID(first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	// Production credentials are independent of sandbox ones.
	prod := &models.PaymentGatewayCredential{GatewayID: 1, Environment: domain.EnvProduction, APIKey: "enc-p", IsActive: true}
	require.NoError(t, repo.Create(prod))
	active, err = repo.GetActive(1, domain.EnvSandbox)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	// Reactivating the historical set swaps the live one back.
	require.NoError(t, repo.Activate(first.ID))
	active, err = repo.GetActive(1, domain.EnvSandbox)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestSettingRepositoryBankDetails(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	repo := NewSettingRepository(db)

	require.NoError(t, repo.Set(models.SettingBankName, "First National"))
	require.NoError(t, repo.Set(models.SettingBankAccountNumber, "0012345678"))

	details, err := repo.BankDetails()
	require.NoError(t, err)
	assert.Equal(t, "First National", details.BankName)
	assert.Equal(t, "0012345678", details.AccountNumber)
	assert.Empty(t, details.Branch)

	// Set overwrites.
	require.NoError(t, repo.Set(models.SettingBankAccountNumber, "999"))
	v, err := repo.Get(models.SettingBankAccountNumber)
	require.NoError(t, err)
	assert.Equal(t, "999", v)
}
