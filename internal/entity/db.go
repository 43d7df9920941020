package entity

import (
	"nexus/internal/entity/common"
)

type StringArray = common.StringArray
type Meta = common.Meta
type BaseParams = common.BaseParams
