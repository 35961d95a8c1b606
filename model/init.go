package model

import "morado/platform"

func InstallDB() {
	db := platform.DB
	if err := db.AutoMigrate(
		&Identity{},
		&Chat{},
		&Message{}); err != nil {
		panic(err)
	}
}
