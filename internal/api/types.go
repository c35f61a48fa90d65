package api

import "dashmonitor/dashctl/internal/gateway"

// SuccessCode is the envelope code the dashboard API uses for success.
const SuccessCode = 0

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginData struct {
	Token    string `json:"token"`
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type LoginResponse = gateway.Envelope[LoginData]

// MonitorRecord is one row of /monitor/data. Metric values arrive as numbers
// from the current API and as strings from older deployments.
type MonitorRecord struct {
	ID          int64         `json:"id"`
	ServerID    int64         `json:"server_id"`
	IPAddress   string        `json:"ip_address"`
	CPUValue    any           `json:"cpu_value"`
	MemoryValue any           `json:"memory_value"`
	DiskValue   any           `json:"disk_value"`
	RecordedAt  string        `json:"recorded_at"`
	Server      *ServerSketch `json:"server,omitempty"`
}

type ServerSketch struct {
	ID         int64  `json:"id"`
	ServerName string `json:"server_name"`
}

type MonitorQuery struct {
	ServerID   int64
	MetricType string
	Hours      int
}

type MetricSubmission struct {
	ServerID  int64   `json:"server_id,omitempty"`
	IPAddress string  `json:"ip_address,omitempty"`
	Metrics   Metrics `json:"metrics"`
}

type Metrics struct {
	CPU    float64 `json:"cpu_value"`
	Memory float64 `json:"memory_value"`
	Disk   float64 `json:"disk_value"`
}

type MetricStat struct {
	Value              float64 `json:"value"`
	ThresholdWarning   float64 `json:"threshold_warning"`
	ThresholdCritical  float64 `json:"threshold_critical"`
	ThresholdEmergency float64 `json:"threshold_emergency"`
	RecordedAt         string  `json:"recorded_at"`
}

type ServerStats struct {
	ServerID   int64                 `json:"server_id"`
	ServerName string                `json:"server_name"`
	IPAddress  string                `json:"ip_address"`
	Users      []User                `json:"users"`
	Metrics    map[string]MetricStat `json:"metrics"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
}

type UserInput struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

type Server struct {
	ID         int64  `json:"id"`
	ServerName string `json:"server_name"`
	IPAddress  string `json:"ip_address"`
	Users      []User `json:"users,omitempty"`
}

type ServerInput struct {
	ServerName string `json:"server_name,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}
