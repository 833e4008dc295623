package compute

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/picklr-io/stackr/internal/stack"
)

// DefaultImageTag is pulled when no tag is configured.
const DefaultImageTag = "latest"

// Image is a container image in an ECR repository.
type Image struct {
	RepositoryArn  string
	RepositoryName string
	Account        string
	Region         string
	Tag            string
	urlSuffix      string
}

// ParseEcrImage resolves a repository ARN and tag into an image reference.
func ParseEcrImage(repositoryArn, tag string) (*Image, error) {
	if repositoryArn == "" {
		return nil, stack.Errorf("ecrArn", "is required")
	}
	a, err := arn.Parse(repositoryArn)
	if err != nil {
		return nil, stack.Errorf("ecrArn", "%q: %v", repositoryArn, err)
	}
	if a.Service != "ecr" {
		return nil, stack.Errorf("ecrArn", "%q is not an ECR ARN", repositoryArn)
	}
	name, ok := strings.CutPrefix(a.Resource, "repository/")
	if !ok || name == "" {
		return nil, stack.Errorf("ecrArn", "%q does not name a repository", repositoryArn)
	}
	if a.AccountID == "" || a.Region == "" {
		return nil, stack.Errorf("ecrArn", "%q must include account and region", repositoryArn)
	}
	if tag == "" {
		tag = DefaultImageTag
	}

	suffix := "amazonaws.com"
	if a.Partition == "aws-cn" {
		suffix = "amazonaws.com.cn"
	}
	return &Image{
		RepositoryArn:  repositoryArn,
		RepositoryName: name,
		Account:        a.AccountID,
		Region:         a.Region,
		Tag:            tag,
		urlSuffix:      suffix,
	}, nil
}

// URI is the pullable image reference.
func (i *Image) URI() string {
	return fmt.Sprintf("%s.dkr.ecr.%s.%s/%s:%s", i.Account, i.Region, i.urlSuffix, i.RepositoryName, i.Tag)
}
