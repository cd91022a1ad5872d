package service

import (
	"escrowpay/internal/model"
)

// 操作者角色
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Actor 资金动作的授权操作者
type Actor struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

// SystemActor 系统动作（自动放款扫描、渠道退款对账）的操作者
var SystemActor = Actor{ID: model.SystemActorID, Role: RoleSystem}

func (a Actor) isPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
