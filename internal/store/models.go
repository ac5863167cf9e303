// Package store 定义数据库层的核心数据结构，避免在 handler/作业代码中散落 SQL 字段细节。
package store

// SysUser 是内部库的登录账号。
type SysUser struct {
	ID                  int64
	Username            string
	PasswordHash        string
	DisplayName         *string
	Email               *string
	Role                string
	AuthMethod          string
	IsActive            bool
	CreatedAt           string
	CreatedBy           *string
	LastLogin           *string
	FailedLoginAttempts int
	LockedUntil         *string
}

// SysSession 是落库的用户会话，服务重启后仍然有效。
type SysSession struct {
	SessionID    string
	Username     string
	DisplayName  string
	Email        *string
	Role         string
	LoginTime    string
	LastActivity string
	IPAddress    string
	UserAgent    string
	AuthMethod   string
}

// AuditEvent 是一条审计记录。
type AuditEvent struct {
	ID             int64
	Timestamp      string
	Username       string
	Action         string
	Category       string
	Success        bool
	Details        *string
	IPAddress      *string
	UserAgent      *string
	SessionID      *string
	TargetUser     *string
	TargetResource *string
	ErrorMessage   *string
	DurationMS     *int64
	RecordCount    *int64
	FileSize       *int64
}

// AuditFilter 是审计查询条件，零值字段不参与过滤。
type AuditFilter struct {
	Username string
	Category string
	Action   string
	Success  *bool
	Since    string
	Until    string
	// Search 在 details/target_resource/error_message 上做 LIKE 匹配。
	Search string
	Limit  int
	Offset int
}

// ETLJob 是一次 ETL 运行的汇总记录。
type ETLJob struct {
	JobID           string
	Status          string
	StartTime       string
	EndTime         *string
	TotalFiles      int
	FilesCompleted  int
	FilesFailed     int
	FilesSkipped    int
	TotalRecords    int64
	RecordsInserted int64
	RecordsUpdated  int64
	RecordsSkipped  int64
	ErrorMessage    *string
	Username        string
	CreatedAt       string
}

// ETLJobFile 是作业里单个文件的处理结果。
type ETLJobFile struct {
	ID                    int64
	JobID                 string
	Filename              string
	TableName             string
	Status                string
	RecordCount           int64
	Inserted              int64
	Updated               int64
	Skipped               int64
	ErrorMessage          *string
	ProcessingTimeSeconds *float64
}

// ETLFileRecord 是业务库 etl_metadata 的一行，按文件名唯一。
type ETLFileRecord struct {
	ID                    int64
	FileName              string
	TableName             string
	FileDate              string
	RecordsProcessed      int64
	RecordsInserted       int64
	RecordsUpdated        int64
	ProcessingStartedAt   string
	ProcessingCompletedAt string
	Status                string
	ErrorMessage          *string
	FileHash              string
	TriggerType           string
	TriggeredBy           *string
}

// DataQualityIssue 是 ETL 清洗过程中发现的一条数据质量问题。
type DataQualityIssue struct {
	ID               int64
	TableName        string
	RecordID         *string
	IssueType        string
	IssueDescription string
	FieldName        *string
	OriginalValue    *string
	CorrectedValue   *string
	DetectedAt       string
	FileName         *string
}

// SchemaError 记录导入文件与表结构不一致的情况。
type SchemaError struct {
	ID           int64
	ErrorType    string
	TableName    *string
	FileName     string
	ErrorMessage string
	DetectedAt   string
	ResolvedAt   *string
	ResolvedBy   *string
	ErrorDetails *string
	SuggestedSQL *string
	Severity     string
}

// SIEMConfig 是 syslog 转发设置（内部库单行表）。
type SIEMConfig struct {
	Enabled              bool
	SyslogEnabled        bool
	SyslogHost           string
	SyslogPort           int
	SyslogProtocol       string
	IncludeSensitiveData bool
	SyslogMinSeverity    string
	UpdatedAt            string
	UpdatedBy            string
}

// SFTPConfig 是 SFTP 连接设置（内部库单行表）。
type SFTPConfig struct {
	Enabled                 bool
	Host                    string
	Port                    int
	Username                string
	AuthMethod              string
	PrivateKeyPath          string
	RemoteDirectory         string
	AutoDownload            bool
	DownloadIntervalMinutes int
	DeleteAfterDownload     bool
	LocalDownloadPath       string
	TimeoutSeconds          int
	MaxRetries              int
	VerifyHostKey           bool
	KnownHostsPath          string
	UpdatedAt               string
	UpdatedBy               string
}

// SFTPFilePattern 是远端文件筛选模式。
type SFTPFilePattern struct {
	ID        int64
	Pattern   string
	Enabled   bool
	CreatedAt string
}

// DatabaseSettings 是业务库连接设置（内部库单行表），
// 迁移完成后由管理端改写，重启后生效。
type DatabaseSettings struct {
	DBType                 string
	Path                   *string
	MSSQLServer            *string
	MSSQLPort              *int
	MSSQLDatabase          *string
	MSSQLUsername          *string
	MSSQLPassword          *string
	MSSQLTrustedConnection bool
	PostgresHost           *string
	PostgresPort           *int
	PostgresDatabase       *string
	PostgresUsername       *string
	PostgresPassword       *string
	MySQLHost              *string
	MySQLPort              *int
	MySQLDatabase          *string
	MySQLUsername          *string
	MySQLPassword          *string
	ConnectionTimeout      int
	MaxConnections         int
	UpdatedAt              *string
	UpdatedBy              *string
}

// FileTableMapping 把文件名模式映射到目标表。
type FileTableMapping struct {
	ID          int64
	FilePattern string
	TableName   string
	CreatedAt   string
	UpdatedAt   string
	CreatedBy   *string
	IsActive    bool
}

// SFTPCacheEntry 是远端文件列表的一次缓存快照（业务库）。
type SFTPCacheEntry struct {
	ID        int64
	SyncTime  string
	FileList  string
	FileCount int
	SyncedBy  *string
}
