// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

const (
	gitNamespace     = "Git Repositories"
	contributeAction = "Contribute"
)

// PermissionGrant names the user and repository for a Contribute grant.
// UserName must match the identity's provider display name.
type PermissionGrant struct {
	Project    string
	Repository string
	UserEmail  string
	UserName   string
}

// GrantedPermission describes an access control entry written by
// AssignContributePermission.
type GrantedPermission struct {
	ProjectID    string
	RepositoryID string
	NamespaceID  string
	Descriptor   string
	Bit          int
}

// AssignContributePermission allows grant.UserName to push to a repository
// by merging an allow entry into the Git Repositories namespace ACL.
func (c *Client) AssignContributePermission(ctx context.Context, grant PermissionGrant) (GrantedPermission, error) {
	if grant.Project == "" || grant.Repository == "" || grant.UserEmail == "" || grant.UserName == "" {
		return GrantedPermission{}, tderr.New(tderr.CodeBackendInputInvalid,
			"project, repository, user email and user name are required")
	}

	project, err := c.FindProject(ctx, grant.Project)
	if err != nil {
		return GrantedPermission{}, err
	}
	repo, err := c.FindRepository(ctx, grant.Project, grant.Repository)
	if err != nil {
		return GrantedPermission{}, err
	}
	namespaceID, bit, err := c.contributeBit(ctx)
	if err != nil {
		return GrantedPermission{}, err
	}
	descriptor, err := c.identityDescriptor(ctx, grant.UserEmail, grant.UserName)
	if err != nil {
		return GrantedPermission{}, err
	}

	body := map[string]any{
		"token": "repoV2/" + project.ID + "/" + repo.ID,
		"merge": true,
		"accessControlEntries": []map[string]any{{
			"descriptor": descriptor,
			"allow":      bit,
			"deny":       0,
			"extendedInfo": map[string]any{
				"effectiveAllow": bit,
				"effectiveDeny":  0,
				"inheritedAllow": bit,
				"inheritedDeny":  0,
			},
		}},
	}
	endpoint := c.endpoint("", "_apis/accesscontrolentries/"+url.PathEscape(namespaceID), nil)
	if err := c.do(ctx, http.MethodPost, endpoint, "application/json", body, nil); err != nil {
		return GrantedPermission{}, err
	}

	c.logger.Info("contribute permission granted",
		"project", grant.Project,
		"repository", grant.Repository,
		"user_email", grant.UserEmail,
	)
	return GrantedPermission{
		ProjectID:    project.ID,
		RepositoryID: repo.ID,
		NamespaceID:  namespaceID,
		Descriptor:   descriptor,
		Bit:          bit,
	}, nil
}

func (c *Client) contributeBit(ctx context.Context) (string, int, error) {
	var resp listResponse[struct {
		NamespaceID string `json:"namespaceId"`
		DisplayName string `json:"displayName"`
		Actions     []struct {
			Name string `json:"name"`
			Bit  int    `json:"bit"`
		} `json:"actions"`
	}]
	if err := c.do(ctx, http.MethodGet, c.endpoint("", "_apis/securitynamespaces", nil), "", nil, &resp); err != nil {
		return "", 0, err
	}
	for _, ns := range resp.Value {
		if ns.DisplayName != gitNamespace {
			continue
		}
		for _, a := range ns.Actions {
			if a.Name == contributeAction {
				return ns.NamespaceID, a.Bit, nil
			}
		}
	}
	return "", 0, tderr.New(tderr.CodeBackendUpstreamFailure,
		fmt.Sprintf("security namespace %q has no %s action", gitNamespace, contributeAction))
}

func (c *Client) identityDescriptor(ctx context.Context, email, name string) (string, error) {
	query := url.Values{
		"searchFilter":    {"General"},
		"filterValue":     {email},
		"queryMembership": {"None"},
	}
	var resp listResponse[struct {
		Descriptor          string `json:"descriptor"`
		ProviderDisplayName string `json:"providerDisplayName"`
	}]
	if err := c.do(ctx, http.MethodGet, c.endpointAt(c.identity, "", "_apis/identities", query), "", nil, &resp); err != nil {
		return "", err
	}
	for _, id := range resp.Value {
		if strings.TrimSpace(id.ProviderDisplayName) == strings.TrimSpace(name) {
			return id.Descriptor, nil
		}
	}
	return "", tderr.New(tderr.CodeBackendIdentityMissing,
		fmt.Sprintf("no identity named %q for %s", name, email), tderr.FieldEmail(email))
}
