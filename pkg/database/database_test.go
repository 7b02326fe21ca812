package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDialectorFor(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{driver: ""},
		{driver: "postgres"},
		{driver: "PostgreSQL"},
		{driver: "mysql"},
		{driver: "sqlite"},
		{driver: "oracle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := dialectorFor(tt.driver, "dsn")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, d)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: conversation_messages.thread_id")))
	assert.True(t, IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "idx"`)))
	assert.True(t, IsUniqueViolation(errors.New("Error 1062: Duplicate entry 'x' for key 'idx'")))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))
	assert.False(t, IsUniqueViolation(nil))
}

type widget struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestOpenTest_TranslatesDuplicates(t *testing.T) {
	db := OpenTest(t, &widget{})

	assert.NoError(t, db.Create(&widget{Name: "a"}).Error)
	err := db.Create(&widget{Name: "a"}).Error
	assert.True(t, IsUniqueViolation(err))
}
