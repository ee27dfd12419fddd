package state

var (
	salePrefix      = []byte("sales/")
	saleVaultPrefix = []byte("sales/vault/")
	accountPrefix   = []byte("accounts/")
	vaultSeed       = []byte("srpchain/sale-vault")
)
