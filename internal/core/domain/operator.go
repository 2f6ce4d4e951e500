package domain

// RoleAdmin is the operator role allowed to query and message workers.
const RoleAdmin = "admin"
