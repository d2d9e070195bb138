package models

import (
	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

type RedisCleaner interface {
	RemoveInstanceRedis() error // remove one
	RemoveAllRedis() error      // remove list & map if exists
}

// remove both item & list + map
func RemoveRedisBoth[T RedisCleaner](obj T) error {
	if err := obj.RemoveInstanceRedis(); err != nil {
		return err
	}
	if err := obj.RemoveAllRedis(); err != nil {
		return err
	}
	return nil
}

/* generated */

func (obj Site) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Site](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Site) RemoveAllRedis() error {
	if err := utils.RemoveRedisList[AllSite](obj.TenantId); err != nil {
		return err
	}
	if err := utils.RemoveRedisMap[AllSite](obj.TenantId); err != nil {
		return err
	}
	return nil
}

func (obj Inspection) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Inspection](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Inspection) RemoveAllRedis() error {
	return nil
}

func (obj Defect) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Defect](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Defect) RemoveAllRedis() error {
	return nil
}

func (obj SealedExport) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItemByKey[SealedExport](obj.BundleId); err != nil {
		return err
	}
	return nil
}

// the chain head summary changes whenever the ledger does
func (obj SealedExport) RemoveAllRedis() error {
	return config.RemoveRedisKey("ChainStatus:" + obj.TenantId)
}
