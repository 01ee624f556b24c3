package server

//go:generate swag init -d ../.. -g internal/server/swagger.go -o ../../docs/swagger

// @title SiteAudit API
// @version 0.1
// @description Website audit scans, battle mode, async tasks and watchdog monitors.
// @contact.name SiteAudit Maintainers
// @contact.url https://github.com/raysh454/siteaudit
// @BasePath /
