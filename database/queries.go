package database

import (
	"gorm.io/gorm"
)

func FetchCheckpoint(db *gorm.DB, streamName string) (*EventCheckpoint, error) {
	var cp EventCheckpoint
	err := db.Where(&EventCheckpoint{StreamName: streamName}).First(&cp).Error
	return &cp, err
}

func CreateCheckpoint(db *gorm.DB, cp *EventCheckpoint) error {
	return db.Create(cp).Error
}

func UpdateCheckpoint(db *gorm.DB, cp *EventCheckpoint) error {
	return db.Save(cp).Error
}

func FetchGrant(db *gorm.DB, characterID uint64, operator string) (*OperatorGrant, error) {
	var grant OperatorGrant
	err := db.Where(&OperatorGrant{CharacterID: characterID, Operator: operator}).First(&grant).Error
	return &grant, err
}

func SaveGrant(db *gorm.DB, grant *OperatorGrant) error {
	return db.Save(grant).Error
}

func GrantsForCharacter(db *gorm.DB, characterID uint64) ([]OperatorGrant, error) {
	var grants []OperatorGrant
	err := db.Where(&OperatorGrant{CharacterID: characterID}).Find(&grants).Error
	return grants, err
}

func FetchAccount(db *gorm.DB, address string) (*CreditAccount, error) {
	var account CreditAccount
	err := db.Where(&CreditAccount{Address: address}).First(&account).Error
	return &account, err
}

func SaveAccount(db *gorm.DB, account *CreditAccount) error {
	return db.Save(account).Error
}

func CreateDepositRecord(db *gorm.DB, record *DepositRecord) error {
	return db.Create(record).Error
}

func DepositRecordExists(db *gorm.DB, txHash string) (bool, error) {
	var count int64
	err := db.Model(&DepositRecord{}).Where(&DepositRecord{TxHash: txHash}).Count(&count).Error
	return count > 0, err
}
