// Package kubernetes provides a remote.Acquirer that provisions sandbox
// server pods through agent-sandbox SandboxClaim resources.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/codeact/pkg/sandbox/remote"
)

var _ remote.Acquirer = (*ClaimAcquirer)(nil)

const managedByLabel = "app.kubernetes.io/managed-by"

// Config selects the SandboxTemplate and how long to wait for pods.
type Config struct {
	Template  string
	Namespace string

	// ClaimTimeout bounds the wait for a claimed Sandbox to become ready (default: 30s).
	ClaimTimeout time.Duration

	// Port is the sandbox server port inside the pod (default: 8080).
	Port int

	// PollInterval is how often the Sandbox status is checked (default: 500ms).
	PollInterval time.Duration
}

// ClaimAcquirer creates one SandboxClaim per Acquire, waits for the bound
// Sandbox to report Ready, and deletes the claim on release.
type ClaimAcquirer struct {
	client client.Client
	cfg    Config
}

// NewClaimAcquirer creates a ClaimAcquirer.
func NewClaimAcquirer(c client.Client, cfg Config) *ClaimAcquirer {
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 30 * time.Second
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &ClaimAcquirer{client: c, cfg: cfg}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Acquire claims a sandbox pod and returns its server URL
// (http://<serviceFQDN>:<port>) with a release function that deletes the claim.
func (a *ClaimAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	claimName := generateClaimNameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claimName,
			Namespace: a.cfg.Namespace,
			Labels:    map[string]string{managedByLabel: "codeact"},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: a.cfg.Template,
			},
		},
	}

	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", claimName, err)
	}
	slog.Debug("created SandboxClaim", "name", claimName, "namespace", a.cfg.Namespace, "template", a.cfg.Template)

	serviceFQDN, err := a.waitForReady(ctx, claimName)
	if err != nil {
		a.deleteClaim(context.Background(), claimName)
		return "", nil, err
	}

	sandboxURL := fmt.Sprintf("http://%s:%d", serviceFQDN, a.cfg.Port)
	release := func() {
		a.deleteClaim(context.Background(), claimName)
	}

	slog.Debug("sandbox acquired", "name", claimName, "url", sandboxURL)
	return sandboxURL, release, nil
}

// waitForReady polls the Sandbox named after the claim until its Ready
// condition is True and a service FQDN is published.
func (a *ClaimAcquirer) waitForReady(ctx context.Context, sandboxName string) (string, error) {
	deadline := time.NewTimer(a.cfg.ClaimTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context cancelled waiting for Sandbox %q: %w", sandboxName, ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("timeout waiting for Sandbox %q to become ready (waited %s)", sandboxName, a.cfg.ClaimTimeout)
		case <-ticker.C:
			sb := &sandboxv1alpha1.Sandbox{}
			key := types.NamespacedName{Name: sandboxName, Namespace: a.cfg.Namespace}
			if err := a.client.Get(ctx, key, sb); err != nil {
				// Not created by the controller yet.
				continue
			}
			if isReady(sb) && sb.Status.ServiceFQDN != "" {
				return sb.Status.ServiceFQDN, nil
			}
		}
	}
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim logs instead of returning errors; it runs from release and
// cleanup paths that have no caller to report to.
func (a *ClaimAcquirer) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.cfg.Namespace,
		},
	}
	if err := a.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", a.cfg.Namespace, "error", err.Error())
		return
	}
	slog.Debug("deleted SandboxClaim", "name", name, "namespace", a.cfg.Namespace)
}

// generateClaimNameFn is replaced in tests for deterministic naming.
var generateClaimNameFn = func() string {
	return "codeact-sandbox-" + uuid.NewString()
}
